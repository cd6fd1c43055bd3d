package ensemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"SignalLoop/internal/domain/models"
	"SignalLoop/internal/services/features"
)

var t0 = time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return t0 }

// separable builds n samples whose label is carried by feature 0.
func separable(n int) []models.LabeledSample {
	out := make([]models.LabeledSample, n)
	for i := range out {
		f := make([]float64, features.VectorSize)
		label := i % 2
		f[0] = 0.2 + 0.01*float64(i%3)
		if label == 1 {
			f[0] = 0.8 - 0.01*float64(i%3)
		}
		f[4] = 0.5
		out[i] = models.LabeledSample{ID: fmt.Sprintf("s%03d", i), Features: f, Label: label, At: t0.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func upInput() Input {
	f := make([]float64, features.VectorSize)
	f[0] = 0.8
	f[4] = 0.5
	return Input{
		Features: f,
		Snapshot: models.DefaultSnapshot(100),
		Signal:   models.Signal{Strength: 20, Confidence: 0.7, Bullish: []string{"RSI oversold"}, Bearish: []string{}},
	}
}

type fixedAdjuster float64

func (a fixedAdjuster) AdjustmentFor(models.IndicatorSnapshot, models.Direction) float64 {
	return float64(a)
}

type fakeLabels struct {
	sims []models.Simulation
	err  error
}

func (f *fakeLabels) ListClosed(ctx context.Context, limit int) ([]models.Simulation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sims, nil
}

// cappedLabels returns the most recently closed simulations first, at most limit.
type cappedLabels struct {
	sims []models.Simulation
}

func (c *cappedLabels) ListClosed(ctx context.Context, limit int) ([]models.Simulation, error) {
	out := append([]models.Simulation(nil), c.sims...)
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(*out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func closedSims(n int) []models.Simulation {
	out := make([]models.Simulation, n)
	for i := range out {
		snap := models.DefaultSnapshot(100)
		exit := 99.0
		snap.RSI = 20 + float64(i%3)
		if i%2 == 1 {
			snap.RSI = 80 - float64(i%3)
			exit = 101
		}
		sim := models.Simulation{
			ID:         fmt.Sprintf("sim-%03d", i),
			OpenedAt:   t0.Add(time.Duration(i) * time.Minute),
			EntryPrice: 100,
			Trend:      models.DirectionUp,
			Snapshot:   snap,
		}
		out[i] = sim.Apply(models.Outcome{ClosedAt: sim.OpenedAt.Add(3 * time.Minute), ExitPrice: exit, Success: exit > 100})
	}
	return out
}

func TestPredictBeforeTrainFallsBack(t *testing.T) {
	p := NewPredictor(WithClock(clock))
	in := upInput()
	in.Signal.Strength = 40

	if _, err := p.Predict(in); !errors.Is(err, models.ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
	pred := p.PredictOrFallback(in)
	if pred.ModelDetail.Method != models.MethodHeuristicFallback {
		t.Fatalf("expected heuristic fallback, got %q", pred.ModelDetail.Method)
	}
	if pred.Direction != models.DirectionUp || math.Abs(pred.Probability.Up-0.7) > 1e-9 {
		t.Fatalf("unexpected fallback %+v", pred)
	}
	if s := pred.Probability.Up + pred.Probability.Down; math.Abs(s-1) > 1e-9 {
		t.Fatalf("probabilities sum to %v", s)
	}
}

func TestFallbackTieGoesDown(t *testing.T) {
	p := NewPredictor()
	in := upInput()
	in.Signal.Strength = 0
	if got := p.PredictOrFallback(in).Direction; got != models.DirectionDown {
		t.Fatalf("expected DOWN on a tie, got %s", got)
	}
}

func TestFallbackAppliesAdjustment(t *testing.T) {
	p := NewPredictor(WithAdjuster(fixedAdjuster(-0.3)))
	in := upInput()
	in.Signal.Confidence = 0.9
	pred := p.PredictOrFallback(in)
	if math.Abs(pred.Confidence-0.6) > 1e-9 {
		t.Fatalf("expected 0.6, got %v", pred.Confidence)
	}
	in.Signal.Confidence = 0.6
	if got := p.PredictOrFallback(in).Confidence; got != models.MinConfidence {
		t.Fatalf("expected clamp to %v, got %v", models.MinConfidence, got)
	}
}

func TestTrainRejectsSmallDataset(t *testing.T) {
	p := NewPredictor(WithClock(clock))
	_, err := p.Train(context.Background(), separable(5))
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if p.Trained() {
		t.Fatalf("expected no state after a failed train")
	}
	if got := p.PredictOrFallback(upInput()).ModelDetail.Method; got != models.MethodHeuristicFallback {
		t.Fatalf("expected fallback after failed train, got %q", got)
	}
}

func TestTrainRejectsSingleClass(t *testing.T) {
	p := NewPredictor()
	samples := separable(20)
	for i := range samples {
		samples[i].Label = 1
	}
	if _, err := p.Train(context.Background(), samples); !errors.Is(err, models.ErrTrainingFailed) {
		t.Fatalf("expected ErrTrainingFailed, got %v", err)
	}
}

func TestTrainHonorsCancellation(t *testing.T) {
	p := NewPredictor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Train(ctx, separable(20))
	if !errors.Is(err, models.ErrTrainingFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled training failure, got %v", err)
	}
	if p.Trained() {
		t.Fatalf("expected no state after cancellation")
	}
}

func TestTrainAndPredict(t *testing.T) {
	p := NewPredictor(WithClock(clock))
	st, err := p.Train(context.Background(), separable(60))
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	sum := 0.0
	for _, w := range st.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %v", sum)
	}
	if st.Accuracy[NameLogistic] != 1 {
		t.Fatalf("expected perfect holdout accuracy for logistic, got %v", st.Accuracy[NameLogistic])
	}

	pred, err := p.Predict(upInput())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Direction != models.DirectionUp {
		t.Fatalf("expected UP, got %s (%+v)", pred.Direction, pred.Probability)
	}
	if pred.ModelDetail.Method != models.MethodEnsemble || len(pred.ModelDetail.Votes) != 3 {
		t.Fatalf("unexpected model detail %+v", pred.ModelDetail)
	}
	if s := pred.Probability.Up + pred.Probability.Down; math.Abs(s-1) > 1e-9 {
		t.Fatalf("probabilities sum to %v", s)
	}
	if pred.Confidence < models.MinConfidence || pred.Confidence > models.MaxConfidence {
		t.Fatalf("confidence out of bounds: %v", pred.Confidence)
	}
	if len(pred.Reasoning) == 0 || len(pred.Reasoning) > models.MaxReasoning {
		t.Fatalf("unexpected reasoning %v", pred.Reasoning)
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	a, b := NewPredictor(WithClock(clock)), NewPredictor(WithClock(clock))
	if _, err := a.Train(context.Background(), separable(40)); err != nil {
		t.Fatalf("train a: %v", err)
	}
	if _, err := b.Train(context.Background(), separable(40)); err != nil {
		t.Fatalf("train b: %v", err)
	}
	sa, _ := a.MarshalState()
	sb, _ := b.MarshalState()
	if !bytes.Equal(sa, sb) {
		t.Fatalf("expected identical states")
	}
}

func TestRetrainIfDue(t *testing.T) {
	labels := &fakeLabels{sims: closedSims(4)}
	p := NewPredictor(WithClock(clock), WithLabels(labels))

	res, err := p.RetrainIfDue(context.Background())
	if err != nil || res.Trained {
		t.Fatalf("expected not due with 4 labels, got %+v, %v", res, err)
	}

	labels.sims = closedSims(12)
	res, err = p.RetrainIfDue(context.Background())
	if err != nil || !res.Trained || res.Samples != 12 {
		t.Fatalf("expected first fit on 12 labels, got %+v, %v", res, err)
	}
	first, _ := p.MarshalState()

	res, err = p.RetrainIfDue(context.Background())
	if err != nil || res.Trained || res.Reason != reasonNotDue {
		t.Fatalf("expected second call not due, got %+v, %v", res, err)
	}

	res, err = p.ForceRetrain(context.Background())
	if err != nil || !res.Trained {
		t.Fatalf("force retrain: %+v, %v", res, err)
	}
	second, _ := p.MarshalState()
	if !bytes.Equal(first, second) {
		t.Fatalf("expected forced retrain on the same labels to reproduce the state")
	}
	if got := p.Stats().ModelUpdates; got != 2 {
		t.Fatalf("expected 2 model updates, got %d", got)
	}
}

func TestRetrainIfDueWithFullLabelWindow(t *testing.T) {
	all := closedSims(400)
	labels := &cappedLabels{sims: all[:60]}
	p := NewPredictor(WithClock(clock), WithLabels(labels), WithMaxSamples(60))

	res, err := p.RetrainIfDue(context.Background())
	if err != nil || !res.Trained || res.Samples != 60 {
		t.Fatalf("expected first fit on 60 labels, got %+v, %v", res, err)
	}

	res, err = p.RetrainIfDue(context.Background())
	if err != nil || res.Trained {
		t.Fatalf("expected not due without new labels, got %+v, %v", res, err)
	}

	labels.sims = all
	res, err = p.RetrainIfDue(context.Background())
	if err != nil || !res.Trained || res.Samples != 60 {
		t.Fatalf("expected retrain once 340 newer labels closed, got %+v, %v", res, err)
	}
	if got := p.Stats().ModelUpdates; got != 2 {
		t.Fatalf("expected 2 model updates, got %d", got)
	}

	res, err = p.RetrainIfDue(context.Background())
	if err != nil || res.Trained {
		t.Fatalf("expected not due after catching up, got %+v, %v", res, err)
	}
}

func TestRetrainIfDueCountsNotifiedLabels(t *testing.T) {
	all := closedSims(120)
	labels := &cappedLabels{sims: all}
	p := NewPredictor(WithClock(clock), WithLabels(labels), WithMaxSamples(60))
	if _, err := p.Train(context.Background(), Samples(all[60:])); err != nil {
		t.Fatalf("train: %v", err)
	}
	res, err := p.RetrainIfDue(context.Background())
	if err != nil || res.Trained {
		t.Fatalf("expected not due before notifications, got %+v, %v", res, err)
	}
	for _, sim := range all[:DefaultRetrainAfter] {
		p.NotifyLabel(sim)
	}
	res, err = p.RetrainIfDue(context.Background())
	if err != nil || !res.Trained {
		t.Fatalf("expected notified labels to make a retrain due, got %+v, %v", res, err)
	}
}

func TestRetrainPropagatesLabelErrors(t *testing.T) {
	p := NewPredictor(WithLabels(&fakeLabels{err: models.ErrUpstreamUnavailable}))
	if _, err := p.ForceRetrain(context.Background()); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSamplesOrderAndLabels(t *testing.T) {
	sims := closedSims(4)
	sims[0], sims[3] = sims[3], sims[0]
	sims = append(sims, models.Simulation{ID: "open", OpenedAt: t0})
	got := Samples(sims)
	if len(got) != 4 {
		t.Fatalf("expected open simulations skipped, got %d", len(got))
	}
	for i, s := range got {
		if s.ID != fmt.Sprintf("sim-%03d", i) {
			t.Fatalf("unexpected order at %d: %s", i, s.ID)
		}
		if s.Label != i%2 {
			t.Fatalf("unexpected label for %s: %d", s.ID, s.Label)
		}
	}
}

func TestRestoreState(t *testing.T) {
	p := NewPredictor(WithClock(clock))
	if _, err := p.Train(context.Background(), separable(30)); err != nil {
		t.Fatalf("train: %v", err)
	}
	data, err := p.MarshalState()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	q := NewPredictor(WithClock(clock))
	if err := q.RestoreState(data); err != nil {
		t.Fatalf("restore: %v", err)
	}
	a, _ := p.Predict(upInput())
	b, _ := q.Predict(upInput())
	if a.Direction != b.Direction || math.Abs(a.Probability.Up-b.Probability.Up) > 1e-12 {
		t.Fatalf("restored predictor disagrees: %+v vs %+v", a.Probability, b.Probability)
	}
	if err := q.RestoreState([]byte(`{}`)); err == nil {
		t.Fatalf("expected incomplete state to be rejected")
	}
}

func TestNotifyLabel(t *testing.T) {
	p := NewPredictor()
	sims := closedSims(4)
	for _, s := range sims {
		p.NotifyLabel(s)
	}
	st := p.Stats()
	if st.LabeledPredictions != 4 || st.CorrectPredictions != 2 || st.RecentAccuracy != 0.5 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
