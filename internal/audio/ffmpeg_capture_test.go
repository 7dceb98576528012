package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
	"rtscribe/internal/ports"
)

type recordingSink struct {
	mu       sync.Mutex
	frames   []domain.AudioFrame
	failures []error
	failed   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failed: make(chan struct{}, 1)}
}

func (s *recordingSink) OnFrame(frame domain.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func (s *recordingSink) OnCaptureFailure(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
	s.failed <- struct{}{}
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func testRecorder(command string) *Recorder {
	return NewRecorder(command, ports.AudioConfig{FrameSize: 4}, zerolog.Nop(), nil)
}

func TestRecorderStartFramesAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nhead -c 32 /dev/zero\nexec sleep 2\n")
	m := metrics.NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(script, ports.AudioConfig{FrameSize: 4}, zerolog.Nop(), m)
	sink := newRecordingSink()

	if err := recorder.Start(context.Background(), sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.frameCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected two frames, got %d", sink.frameCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := recorder.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.frames[0]) != 4 || sink.frames[0][0] != 0 {
		t.Fatalf("unexpected frame: %v", sink.frames[0])
	}
	if len(sink.failures) != 0 {
		t.Fatalf("expected no failure after a requested stop, got %v", sink.failures)
	}
	if got := testutil.ToFloat64(m.FramesCaptured); got != 2 {
		t.Fatalf("expected two captured frames, got %v", got)
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	t.Parallel()

	recorder := testRecorder(writeScript(t, "idle.sh", "#!/usr/bin/env bash\nexec sleep 2\n"))
	if err := recorder.Stop(); err != nil {
		t.Fatalf("expected stop without start to succeed, got %v", err)
	}
	if err := recorder.Start(context.Background(), newRecordingSink()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := recorder.Start(context.Background(), newRecordingSink()); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
	if err := recorder.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := recorder.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestRecorderStartClassifiesEarlyExit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stderr  string
		kind    domain.ErrorKind
		blocked bool
	}{
		{name: "denied", stderr: "default: Permission denied", kind: domain.ErrorKindPermission},
		{name: "busy", stderr: "hw:0: Device or resource busy", kind: domain.ErrorKindPermission, blocked: true},
		{name: "format", stderr: "Unknown input format: 'pulse'", kind: domain.ErrorKindUnsupported},
		{name: "other", stderr: "boom", kind: domain.ErrorKindUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			script := writeScript(t, "fail.sh", fmt.Sprintf("#!/usr/bin/env bash\necho %q 1>&2\nexit 1\n", tt.stderr))
			err := testRecorder(script).Start(context.Background(), newRecordingSink())
			if err == nil {
				t.Fatalf("expected early exit error")
			}
			if got := domain.KindOf(err); got != tt.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tt.kind, got, err)
			}
			var typed *domain.Error
			if errors.As(err, &typed) && typed.Blocked != tt.blocked {
				t.Fatalf("expected blocked=%v, got %v", tt.blocked, typed.Blocked)
			}
			if !strings.Contains(err.Error(), "exited before capture started") {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRecorderMissingBinaryIsUnsupported(t *testing.T) {
	t.Parallel()

	recorder := testRecorder(filepath.Join(t.TempDir(), "no-ffmpeg"))
	err := recorder.Start(context.Background(), newRecordingSink())
	if !domain.IsKind(err, domain.ErrorKindUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRecorderReportsFailureAfterStart(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "crash.sh", "#!/usr/bin/env bash\nhead -c 16 /dev/zero\nsleep 0.5\necho 'Device or resource busy' 1>&2\nexit 1\n")
	recorder := testRecorder(script)
	sink := newRecordingSink()

	if err := recorder.Start(context.Background(), sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-sink.failed:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected capture failure callback")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.failures) != 1 || !domain.IsKind(sink.failures[0], domain.ErrorKindPermission) {
		t.Fatalf("expected one permission failure, got %v", sink.failures)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("expected the frame before the crash, got %d", len(sink.frames))
	}
}

func TestRecorderStartHonoursContext(t *testing.T) {
	t.Parallel()

	recorder := testRecorder(writeScript(t, "slow.sh", "#!/usr/bin/env bash\nexec sleep 2\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := recorder.Start(ctx, newRecordingSink()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if err := recorder.Start(context.Background(), newRecordingSink()); err != nil {
		t.Fatalf("expected recorder to be reusable, got %v", err)
	}
	_ = recorder.Stop()
}

func TestRecorderSelectInput(t *testing.T) {
	t.Parallel()

	recorder := testRecorder("ffmpeg")
	if got := recorder.SelectedInput(); got != "default" {
		t.Fatalf("unexpected default device: %q", got)
	}
	recorder.SelectInput("hw:1")
	if got := recorder.SelectedInput(); got != "hw:1" {
		t.Fatalf("unexpected selected device: %q", got)
	}
	recorder.SelectInput("")
	if got := recorder.SelectedInput(); got != "default" {
		t.Fatalf("expected empty selection to restore default, got %q", got)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestParseSources(t *testing.T) {
	t.Parallel()

	devices := parseSources("Auto-detected sources for pulse:\n" +
		"* alsa_input.analog-stereo [Built-in Audio Analog Stereo]\n" +
		"  alsa_output.monitor [Monitor of Built-in Audio]\n" +
		"  bare_device\n")

	if len(devices) != 3 {
		t.Fatalf("expected three devices, got %+v", devices)
	}
	if !devices[0].Default || devices[0].ID != "alsa_input.analog-stereo" || devices[0].Label != "Built-in Audio Analog Stereo" {
		t.Fatalf("unexpected default device: %+v", devices[0])
	}
	if devices[1].Default || devices[1].Label != "Monitor of Built-in Audio" {
		t.Fatalf("unexpected second device: %+v", devices[1])
	}
	if devices[2].ID != "bare_device" || devices[2].Label != "" {
		t.Fatalf("unexpected unlabelled device: %+v", devices[2])
	}
}

func TestListInputsProbesForLabelsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	marker := filepath.Join(dir, "probed")
	script := writeScript(t, "sources.sh", fmt.Sprintf(`#!/usr/bin/env bash
case "$*" in
  *-sources*)
    echo "Auto-detected sources for pulse:"
    if [ -f %[1]q ]; then
      echo "* mic [USB Microphone]"
    else
      echo "* mic"
    fi
    ;;
  *)
    touch %[1]q
    exec sleep 2
    ;;
esac
`, marker))

	recorder := testRecorder(script)
	devices, err := recorder.ListInputs(context.Background())
	if err != nil {
		t.Fatalf("list inputs: %v", err)
	}
	if len(devices) != 1 || devices[0].Label != "USB Microphone" {
		t.Fatalf("expected labels after probe, got %+v", devices)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected probe capture to run: %v", err)
	}
}

func TestListInputsFailureIsEmpty(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh", "#!/usr/bin/env bash\necho 'Permission denied' 1>&2\nexit 1\n")
	devices, err := testRecorder(script).ListInputs(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected empty list, got %+v", devices)
	}
}

func TestPermissionProbeSkipsPromptWhenFast(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{release: make(chan struct{})}
	close(capture.release)
	probe := NewPermissionProbe(capture, clock.NewMock(), time.Second)

	prompted := false
	if err := probe.Check(context.Background(), func() { prompted = true }); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if prompted {
		t.Fatalf("expected no prompt when permission resolves first")
	}
	if capture.stops != 1 {
		t.Fatalf("expected probe capture to be stopped, got %d", capture.stops)
	}
}

func TestPermissionProbePromptsWhenSlow(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	capture := &fakeCapture{
		release: make(chan struct{}),
		err:     domain.NewPermissionError("start capture", false, errors.New("denied")),
	}
	probe := NewPermissionProbe(capture, mock, 500*time.Millisecond)

	prompts := make(chan struct{}, 2)
	result := make(chan error, 1)
	go func() {
		result <- probe.Check(context.Background(), func() { prompts <- struct{}{} })
	}()

	deadline := time.After(2 * time.Second)
	for prompted := false; !prompted; {
		mock.Add(100 * time.Millisecond)
		select {
		case <-prompts:
			prompted = true
		case <-deadline:
			t.Fatalf("expected prompt callback")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(capture.release)

	err := <-result
	if !domain.IsKind(err, domain.ErrorKindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if len(prompts) != 0 {
		t.Fatalf("expected a single prompt")
	}
}

type fakeCapture struct {
	release chan struct{}
	err     error

	mu    sync.Mutex
	stops int
}

func (f *fakeCapture) ListInputs(context.Context) ([]domain.InputDevice, error) { return nil, nil }
func (f *fakeCapture) SelectInput(string) {}

func (f *fakeCapture) Start(ctx context.Context, _ ports.FrameSink) error {
	select {
	case <-f.release:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
