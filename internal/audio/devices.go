package audio

import (
	"bufio"
	"context"
	"os/exec"
	"strings"

	"rtscribe/internal/domain"
)

// ListInputs enumerates capture sources through `ffmpeg -sources`. Some
// backends hide device labels until the device has been opened once; when
// every label is empty on the first call a short probe capture is run and
// the sources are listed again. Enumeration failures yield an empty list.
func (r *Recorder) ListInputs(ctx context.Context) ([]domain.InputDevice, error) {
	devices, err := r.listSources(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	needProbe := !r.labelled && len(devices) > 0 && !hasLabels(devices) && r.active == nil
	r.labelled = true
	r.mu.Unlock()

	if !needProbe {
		return devices, nil
	}

	if err := r.Start(ctx, discardSink{}); err != nil {
		r.logger.Debug().Err(err).Msg("label probe failed")
		return devices, nil
	}
	if err := r.Stop(); err != nil {
		r.logger.Debug().Err(err).Msg("label probe did not stop cleanly")
	}
	return r.listSources(ctx)
}

func (r *Recorder) listSources(ctx context.Context) ([]domain.InputDevice, error) {
	cmd := exec.CommandContext(ctx, r.command, "-hide_banner", "-sources", r.cfg.InputFormat)
	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil && len(out) == 0 {
		r.logger.Warn().Err(err).Str("format", r.cfg.InputFormat).Msg("failed to enumerate inputs")
		return []domain.InputDevice{}, nil
	}
	return parseSources(string(out)), nil
}

// parseSources reads the `-sources` listing:
//
//	Auto-detected sources for pulse:
//	* alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]
//	  alsa_output.monitor [Monitor of Built-in Audio]
func parseSources(output string) []domain.InputDevice {
	devices := []domain.InputDevice{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}

		device := domain.InputDevice{}
		if rest, ok := strings.CutPrefix(line, "*"); ok {
			device.Default = true
			line = strings.TrimSpace(rest)
		}
		if open := strings.Index(line, " ["); open >= 0 && strings.HasSuffix(line, "]") {
			device.Label = strings.TrimSpace(line[open+2 : len(line)-1])
			line = line[:open]
		}
		device.ID = strings.TrimSpace(line)
		if device.ID == "" {
			continue
		}
		devices = append(devices, device)
	}
	return devices
}

func hasLabels(devices []domain.InputDevice) bool {
	for _, d := range devices {
		if d.Label != "" {
			return true
		}
	}
	return false
}

type discardSink struct{}

func (discardSink) OnFrame(domain.AudioFrame) {}
func (discardSink) OnCaptureFailure(error) {}
