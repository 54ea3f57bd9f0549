package pipeline_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/uttercap/internal/capture"
	"github.com/MrWong99/uttercap/internal/observe"
	"github.com/MrWong99/uttercap/internal/pipeline"
	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/internal/sink/mock"
	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/render"
)

// sineSegment returns a stereo 48 kHz segment carrying a freq Hz sine on the
// first channel and silence on the second.
func sineSegment(freq, amp float64, seconds float64) capture.Segment {
	const rate = 48000
	n := int(seconds * rate)
	samples := make([]float32, 2*n)
	for i := range n {
		samples[2*i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return capture.Segment{
		ID:        uuid.New(),
		Format:    audio.Format{SampleRate: rate, Channels: 2},
		Samples:   samples,
		StartedAt: time.Now(),
		Reason:    capture.ReasonEndOfUtterance,
	}
}

func TestProcess_DeliversMono16kPCM(t *testing.T) {
	t.Parallel()

	s := &mock.Sink{}
	p := pipeline.New(render.New(), s, pipeline.Config{})
	seg := sineSegment(1000, 0.5, 0.5)

	outcome, err := p.Process(context.Background(), seg)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if outcome != observe.OutcomeDelivered {
		t.Fatalf("outcome = %q, want delivered", outcome)
	}

	u, ok := s.Last()
	if !ok {
		t.Fatal("nothing delivered")
	}
	if u.ID != seg.ID {
		t.Errorf("utterance ID = %v, want segment ID %v", u.ID, seg.ID)
	}
	if u.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", u.SampleRate)
	}
	if u.Samples() != 8000 {
		t.Errorf("samples = %d, want 8000 (0.5 s at 16 kHz)", u.Samples())
	}
	if len(u.PCM) != 2*u.Samples() {
		t.Errorf("PCM length = %d, want 2*samples", len(u.PCM))
	}
}

func TestProcess_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seg     capture.Segment
		cfg     pipeline.Config
		sinkErr error
		want    string
		wantErr error
	}{
		{
			name:    "empty segment",
			seg:     capture.Segment{ID: uuid.New(), Format: audio.Format{SampleRate: 48000, Channels: 1}},
			want:    observe.OutcomeDecodeFailed,
			wantErr: render.ErrDecode,
		},
		{
			name: "non-finite samples",
			seg: capture.Segment{
				ID:      uuid.New(),
				Format:  audio.Format{SampleRate: 48000, Channels: 1},
				Samples: []float32{0, float32(math.NaN())},
			},
			want:    observe.OutcomeDecodeFailed,
			wantErr: render.ErrDecode,
		},
		{
			name: "below loudness gate",
			seg:  sineSegment(1000, 0.0001, 0.1),
			cfg:  pipeline.Config{MinRMS: 10},
			want: observe.OutcomeEmpty,
		},
		{
			name:    "sink failure",
			seg:     sineSegment(1000, 0.5, 0.1),
			sinkErr: errors.New("disk full"),
			want:    observe.OutcomeSinkFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &mock.Sink{DeliverErr: tt.sinkErr}
			p := pipeline.New(render.New(), s, tt.cfg)

			outcome, err := p.Process(context.Background(), tt.seg)
			if outcome != tt.want {
				t.Errorf("outcome = %q, want %q", outcome, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.sinkErr != nil && !errors.Is(err, tt.sinkErr) {
				t.Errorf("err = %v, want wrapping sink error", err)
			}
			if tt.want != observe.OutcomeDelivered && tt.want != observe.OutcomeSinkFailed && s.Count() != 0 {
				t.Errorf("sink received %d utterances, want 0", s.Count())
			}
		})
	}
}

func TestHandleSegment_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	var delivered sync.WaitGroup
	delivered.Add(4)
	s := sink.Func("slow", func(ctx context.Context, u sink.Utterance) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		delivered.Done()
		return nil
	})
	p := pipeline.New(render.New(), s, pipeline.Config{MaxConcurrent: 2})

	for range 4 {
		p.HandleSegment(sineSegment(1000, 0.5, 0.05))
	}
	deadline := time.Now().Add(2 * time.Second)
	for inFlight.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	delivered.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}
}

func TestHandleSegment_DroppedAfterClose(t *testing.T) {
	t.Parallel()

	s := &mock.Sink{}
	p := pipeline.New(render.New(), s, pipeline.Config{})
	p.Close()
	p.HandleSegment(sineSegment(1000, 0.5, 0.05))

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("deliveries = %d, want 0 after Close", s.Count())
	}
}

func TestWait_TimesOut(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	p := pipeline.New(render.New(), sink.Func("stuck", func(context.Context, sink.Utterance) error {
		<-block
		return nil
	}), pipeline.Config{})
	p.HandleSegment(sineSegment(1000, 0.5, 0.05))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestProcess_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	p := pipeline.New(render.New(), &mock.Sink{}, pipeline.Config{}, pipeline.WithMetrics(m))
	if _, err := p.Process(context.Background(), sineSegment(1000, 0.5, 0.1)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var delivered int64
	var renders uint64
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch mt.Name {
			case "uttercap.segments":
				for _, dp := range mt.Data.(metricdata.Sum[int64]).DataPoints {
					if v, _ := dp.Attributes.Value("outcome"); v.AsString() == observe.OutcomeDelivered {
						delivered += dp.Value
					}
				}
			case "uttercap.render.duration":
				for _, dp := range mt.Data.(metricdata.Histogram[float64]).DataPoints {
					renders += dp.Count
				}
			}
		}
	}
	if delivered != 1 {
		t.Errorf("delivered segments = %d, want 1", delivered)
	}
	if renders != 1 {
		t.Errorf("render duration samples = %d, want 1", renders)
	}
}
