package scrcpy

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Options is the set of server arguments this client knows how to render.
// Unset fields (empty strings, nil pointers) are left to the server
// defaults. Field order is the order of Args.
type Options struct {
	LogLevel string `opt:"log_level"`

	Video   *bool `opt:"video"`
	Audio   *bool `opt:"audio"`
	Control *bool `opt:"control"`

	VideoCodec           string `opt:"video_codec"`
	VideoBitRate         *int   `opt:"video_bit_rate"`
	VideoCodecOptions    string `opt:"video_codec_options"`
	VideoEncoder         string `opt:"video_encoder"`
	MaxSize              *int   `opt:"max_size"`
	MaxFPS               *int   `opt:"max_fps"`
	LockVideoOrientation *int   `opt:"lock_video_orientation"`
	Crop                 string `opt:"crop"`

	AudioCodec        string `opt:"audio_codec"`
	AudioBitRate      *int   `opt:"audio_bit_rate"`
	AudioCodecOptions string `opt:"audio_codec_options"`
	AudioEncoder      string `opt:"audio_encoder"`

	DisplayID         *int  `opt:"display_id"`
	ShowTouches       *bool `opt:"show_touches"`
	StayAwake         *bool `opt:"stay_awake"`
	PowerOffOnClose   *bool `opt:"power_off_on_close"`
	ClipboardAutosync *bool `opt:"clipboard_autosync"`
	DownsizeOnError   *bool `opt:"downsize_on_error"`
	PowerOn           *bool `opt:"power_on"`
	Cleanup           *bool `opt:"cleanup"`

	SendFrameMeta  *bool `opt:"send_frame_meta"`
	SendDummyByte  *bool `opt:"send_dummy_byte"`
	SendDeviceMeta *bool `opt:"send_device_meta"`
	SendCodecMeta  *bool `opt:"send_codec_meta"`

	// SCID is assigned per session and always rendered, in hex.
	SCID uint32 `opt:"scid"`
}

var optionFields = func() map[string]int {
	m := map[string]int{}
	t := reflect.TypeFor[Options]()
	for i := range t.NumField() {
		m[t.Field(i).Tag.Get("opt")] = i
	}
	return m
}()

// OptionKeys lists the recognized keys in rendering order.
func OptionKeys() []string {
	keys := slices.Collect(maps.Keys(optionFields))
	slices.SortFunc(keys, func(a, b string) int { return optionFields[a] - optionFields[b] })
	return keys
}

// ParseOptions builds Options from string key/value pairs. Unknown keys
// give an *UnknownOptionError, unparsable values an *InvalidOptionError.
func ParseOptions(kv map[string]string) (Options, error) {
	var o Options
	v := reflect.ValueOf(&o).Elem()
	for _, key := range slices.Sorted(maps.Keys(kv)) {
		i, ok := optionFields[key]
		if !ok {
			return Options{}, &UnknownOptionError{Key: key}
		}
		if err := setField(v.Field(i), key, kv[key]); err != nil {
			return Options{}, err
		}
	}
	return o, o.Validate()
}

func setField(f reflect.Value, key, raw string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Uint32:
		n, err := strconv.ParseUint(raw, 16, 31)
		if err != nil {
			return &InvalidOptionError{Key: key, Value: raw, Reason: "want a 31-bit hex id"}
		}
		f.SetUint(n)
	case reflect.Pointer:
		switch f.Type().Elem().Kind() {
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return &InvalidOptionError{Key: key, Value: raw, Reason: "want a boolean"}
			}
			f.Set(reflect.ValueOf(&b))
		case reflect.Int:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return &InvalidOptionError{Key: key, Value: raw, Reason: "want an integer"}
			}
			f.Set(reflect.ValueOf(&n))
		}
	}
	return nil
}

// Validate rejects combinations the session cannot drive.
func (o Options) Validate() error {
	if o.SendFrameMeta != nil && !*o.SendFrameMeta {
		return &InvalidOptionError{Key: "send_frame_meta", Value: "false", Reason: "frames must carry meta headers"}
	}
	if o.SendDummyByte != nil && !*o.SendDummyByte {
		return &InvalidOptionError{Key: "send_dummy_byte", Value: "false", Reason: "the dummy byte marks a ready tunnel"}
	}
	if o.SendDeviceMeta != nil && !*o.SendDeviceMeta {
		return &InvalidOptionError{Key: "send_device_meta", Value: "false", Reason: "the device name is part of the handshake"}
	}
	if o.SendCodecMeta != nil && !*o.SendCodecMeta {
		return &InvalidOptionError{Key: "send_codec_meta", Value: "false", Reason: "codec tags are part of the handshake"}
	}
	switch o.VideoCodec {
	case "", CodecH264, CodecH265, CodecAV1:
	default:
		return &InvalidOptionError{Key: "video_codec", Value: o.VideoCodec, Reason: "unsupported codec"}
	}
	switch o.AudioCodec {
	case "", CodecOpus, CodecAAC, CodecRaw, CodecFLAC:
	default:
		return &InvalidOptionError{Key: "audio_codec", Value: o.AudioCodec, Reason: "unsupported codec"}
	}
	return nil
}

// Merge returns o with every field set in over copied on top.
func (o Options) Merge(over Options) Options {
	dst := reflect.ValueOf(&o).Elem()
	src := reflect.ValueOf(over)
	for i := range src.NumField() {
		if !src.Field(i).IsZero() {
			dst.Field(i).Set(src.Field(i))
		}
	}
	return o
}

func (o Options) AudioEnabled() bool   { return o.Audio == nil || *o.Audio }
func (o Options) ControlEnabled() bool { return o.Control == nil || *o.Control }

// Args renders the set fields as key=value server arguments in a stable
// order. tunnel_forward=true is always appended since sockets are opened
// from the host side.
func (o Options) Args() []string {
	v := reflect.ValueOf(o)
	t := v.Type()
	var args []string
	for i := range t.NumField() {
		f := v.Field(i)
		key := t.Field(i).Tag.Get("opt")
		switch f.Kind() {
		case reflect.String:
			if s := f.String(); s != "" {
				args = append(args, key+"="+s)
			}
		case reflect.Uint32:
			args = append(args, fmt.Sprintf("%s=%08x", key, f.Uint()))
		case reflect.Pointer:
			if !f.IsNil() {
				args = append(args, fmt.Sprintf("%s=%v", key, f.Elem().Interface()))
			}
		}
	}
	return append(args, "tunnel_forward=true")
}

// Map is the inverse of ParseOptions, for persisting options.
func (o Options) Map() map[string]string {
	m := map[string]string{}
	for _, a := range o.Args() {
		k, v, _ := strings.Cut(a, "=")
		m[k] = v
	}
	delete(m, "tunnel_forward")
	return m
}
