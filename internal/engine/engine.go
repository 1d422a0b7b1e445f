// Package engine provides core.VoiceEngine implementations for the
// pocket-tts speech model: a subprocess engine driving the local CLI and an
// HTTP engine talking to a standalone service. Both share the same voice
// resolution rules.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Static errors.
var (
	ErrEmptyText        = errors.New("text cannot be empty")
	ErrEngineEmptyAudio = errors.New("engine returned empty audio")
	ErrWrongSampleRate  = errors.New("engine returned unexpected sample rate")
)

// knownPresets is the set of built-in voices shipped with the model. A
// preset outside this set fails lookup and falls back to the default.
func knownPresets() map[string]struct{} {
	return map[string]struct{}{
		"alba":    {},
		"cosette": {},
		"eponine": {},
		"fantine": {},
		"javert":  {},
		"marius":  {},
	}
}

// resolveVoice applies the resolution order shared by both engines:
//  1. A cloned reference is converted to the pipeline format; conversion
//     failure is fatal because cloning was explicitly requested.
//  2. A named preset is looked up, with the "no explicit choice" sentinel
//     remapped first; lookup failure logs and falls back to the default
//     preset instead of aborting.
//  3. Otherwise the default preset is used.
func resolveVoice(
	ctx context.Context,
	spec core.VoiceSpec,
	tools core.AudioTools,
	log *logger.Logger,
) (core.Voice, error) {
	if spec.RefAudioPath != "" {
		converted, err := tools.EnsureCompatible(ctx, spec.RefAudioPath)
		if err != nil {
			return core.Voice{}, fmt.Errorf("voice cloning unavailable: %w", err)
		}

		return core.Voice{Reference: converted, Preset: ""}, nil
	}

	preset := spec.Preset
	if preset == "" || preset == core.PresetCustom {
		preset = core.DefaultPreset
	}

	if _, ok := knownPresets()[preset]; !ok {
		log.Warn("Preset '%s' failed lookup, falling back to '%s'", preset, core.DefaultPreset)

		preset = core.DefaultPreset
	}

	return core.Voice{Reference: "", Preset: preset}, nil
}

// promptArgument converts a resolved voice into the audio-prompt argument
// both engines pass to the model: a reference file path or a preset name.
func promptArgument(voice core.Voice) string {
	if voice.Reference != "" {
		return voice.Reference
	}

	return voice.Preset
}
