package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func devicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices known to the adb daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := a.adbClient().Devices(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERIAL\tSTATE\tMODEL\tTRANSPORT")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Serial, d.State, d.Model, d.TransportID)
			}
			return tw.Flush()
		},
	}
}

func statCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <serial> <path>",
		Short: "Show mode, size and modification time of a device path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.adbClient().OpenSync(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			defer s.Watch(cmd.Context())()

			fi, err := s.Stat(args[1])
			if err != nil {
				return err
			}
			if !fi.Exists() {
				return fmt.Errorf("%s: %w", args[1], fs.ErrNotExist)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d  %s  %s\n",
				fs.FileMode(fi.Mode&0o777), fi.Size, fi.ModTime.Format("2006-01-02 15:04:05"), args[1])
			return nil
		},
	}
}

func lsCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ls <serial> [dir]",
		Short: "List a device directory",
		Long: `List a device directory through the adb sync protocol.

Examples:
  adbcast ls emulator-5554
  adbcast ls emulator-5554 /data/local/tmp`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/sdcard"
			if len(args) == 2 {
				dir = args[1]
			}
			s, err := a.adbClient().OpenSync(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			defer s.Watch(cmd.Context())()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for e, err := range s.List(dir) {
				if err != nil {
					return err
				}
				if !all && (e.Name == "." || e.Name == "..") {
					continue
				}
				name := e.Name
				if e.IsDir() {
					name += "/"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					fs.FileMode(e.Mode&0o777), e.Size, e.ModTime.Format("2006-01-02 15:04"), name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include . and ..")
	return cmd
}

func pullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <serial> <remote> [local]",
		Short: "Copy a file from the device",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[1]
			local := path.Base(remote)
			if len(args) == 3 {
				local = args[2]
			}
			s, err := a.adbClient().OpenSync(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			defer s.Watch(cmd.Context())()

			f, err := os.Create(local)
			if err != nil {
				return err
			}
			n, err := s.Pull(remote, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(local)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes pulled\n", remote, n)
			return nil
		},
	}
}

func pushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push <serial> <local> <remote>",
		Short: "Copy a file to the device",
		Long: `Copy a file to the device. The remote size is checked against the
local one once the transfer completes.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.adbClient().PushFile(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[1], args[2])
			return nil
		},
	}
}
