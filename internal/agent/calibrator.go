package agent

import (
	"sync"
	"time"
)

// calibrationBins splits [0,1] into fixed-width reliability buckets.
const calibrationBins = 10

// ConfidenceCalibrator learns a reliability curve from
// (predicted confidence, was correct) pairs and maps raw confidences to the
// observed hit rate of their bucket.
type ConfidenceCalibrator struct {
	correct [calibrationBins]int
	total   [calibrationBins]int
	mu      sync.RWMutex
}

// NewConfidenceCalibrator creates an empty calibrator.
func NewConfidenceCalibrator() *ConfidenceCalibrator {
	return &ConfidenceCalibrator{}
}

func binFor(confidence float64) int {
	bin := int(clamp01(confidence) * calibrationBins)
	if bin == calibrationBins {
		bin = calibrationBins - 1
	}
	return bin
}

// Record adds one outcome observation.
func (c *ConfidenceCalibrator) Record(predicted float64, wasCorrect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bin := binFor(predicted)
	c.total[bin]++
	if wasCorrect {
		c.correct[bin]++
	}
}

// Calibrate maps a raw confidence onto the observed accuracy of its bucket.
// Buckets with no history return the raw value unchanged.
func (c *ConfidenceCalibrator) Calibrate(confidence float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bin := binFor(confidence)
	if c.total[bin] == 0 {
		return clamp01(confidence)
	}
	return float64(c.correct[bin]) / float64(c.total[bin])
}

// Samples returns how many outcomes have been recorded.
func (c *ConfidenceCalibrator) Samples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, n := range c.total {
		total += n
	}
	return total
}

// Prediction is one logged forecast awaiting review.
type Prediction struct {
	ID         string                 `json:"id"`
	Subject    string                 `json:"subject"`
	Predicted  string                 `json:"predicted"`
	Confidence float64                `json:"confidence"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	Reviewed   bool                   `json:"reviewed"`
	Correct    bool                   `json:"correct"`
	CreatedAt  time.Time              `json:"created_at"`
}

// SelfCorrectionLog records predictions so later outcomes can be scored
// against them and fed back into the calibrator.
type SelfCorrectionLog struct {
	predictions map[string]*Prediction
	calibrator  *ConfidenceCalibrator
	mu          sync.Mutex
}

// NewSelfCorrectionLog creates a log feeding the given calibrator.
func NewSelfCorrectionLog(calibrator *ConfidenceCalibrator) *SelfCorrectionLog {
	return &SelfCorrectionLog{
		predictions: make(map[string]*Prediction),
		calibrator:  calibrator,
	}
}

// LogPrediction records a forecast for later review.
func (l *SelfCorrectionLog) LogPrediction(p Prediction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	l.predictions[p.ID] = &p
}

// ReviewOutcome scores a logged prediction against the actual outcome and
// feeds the result to the calibrator. Unknown ids are ignored.
func (l *SelfCorrectionLog) ReviewOutcome(id, actual string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.predictions[id]
	if !ok || p.Reviewed {
		return
	}
	p.Outcome = actual
	p.Correct = p.Predicted == actual
	p.Reviewed = true
	if l.calibrator != nil {
		l.calibrator.Record(p.Confidence, p.Correct)
	}
}

// Accuracy returns the fraction of reviewed predictions that were correct.
func (l *SelfCorrectionLog) Accuracy() (float64, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reviewed, correct := 0, 0
	for _, p := range l.predictions {
		if p.Reviewed {
			reviewed++
			if p.Correct {
				correct++
			}
		}
	}
	if reviewed == 0 {
		return 0, 0
	}
	return float64(correct) / float64(reviewed), reviewed
}
