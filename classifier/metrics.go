package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Metrics of a probe on one dataset. Precision, Recall and F1 are macro averaged over the labels that occur in
// the gold labels or the predictions.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Loss      float64 `json:"loss"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Instances int     `json:"instances"`
}

// computeMetrics scores logits of shape [len(gold), numClasses] against the gold label indices.
func computeMetrics(gold []int32, logits []float32, numClasses int) (Metrics, error) {
	if numClasses < 1 || len(logits) != len(gold)*numClasses {
		return Metrics{}, fmt.Errorf("%d logits for %d instances of %d classes", len(logits), len(gold), numClasses)
	}
	if len(gold) == 0 {
		return Metrics{}, nil
	}

	truePositives := make([]int, numClasses)
	predictedCount := make([]int, numClasses)
	goldCount := make([]int, numClasses)
	correct := 0
	loss := 0.0
	row := make([]float64, numClasses)
	for i, label := range gold {
		for j := range row {
			row[j] = float64(logits[i*numClasses+j])
		}
		predicted := floats.MaxIdx(row)
		// softmax cross entropy
		loss += floats.LogSumExp(row) - row[label]
		predictedCount[predicted]++
		goldCount[label]++
		if predicted == int(label) {
			correct++
			truePositives[label]++
		}
	}

	m := Metrics{
		Accuracy:  float64(correct) / float64(len(gold)),
		Loss:      loss / float64(len(gold)),
		Instances: len(gold),
	}
	present := 0
	for c := range numClasses {
		if goldCount[c] == 0 && predictedCount[c] == 0 {
			continue
		}
		present++
		precision := ratio(truePositives[c], predictedCount[c])
		recall := ratio(truePositives[c], goldCount[c])
		m.Precision += precision
		m.Recall += recall
		if precision+recall > 0 {
			m.F1 += 2 * precision * recall / (precision + recall)
		}
	}
	m.Precision /= float64(present)
	m.Recall /= float64(present)
	m.F1 /= float64(present)
	if math.IsNaN(m.Loss) || math.IsInf(m.Loss, 0) {
		return m, fmt.Errorf("loss is %g", m.Loss)
	}
	return m, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
