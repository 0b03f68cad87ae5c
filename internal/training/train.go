package training

import (
	"fmt"

	"mailrank/internal/classifier"
)

// TrainOptions tune training
type TrainOptions struct {
	HoldoutFraction float64 // share of examples held out for accuracy, chosen by id hash
	Alpha           float64 // additive smoothing
	MinPerCategory  int     // every category in the corpus needs at least this many examples
}

// DefaultTrainOptions returns the training defaults
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{HoldoutFraction: 0.2, Alpha: 1.0, MinPerCategory: DefaultExportOptions().MinPerCategory}
}

// Train fits a model on examples and measures it on a deterministic holdout split. A
// category with fewer than MinPerCategory examples aborts training.
func Train(examples []classifier.Example, opts TrainOptions) (*classifier.Model, error) {
	counts := make(map[string]int)
	for _, ex := range examples {
		counts[ex.Category]++
	}
	if short := underfilled(counts, opts.MinPerCategory); len(short) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTrainingDataInsufficient, describeShort(short, counts, opts.MinPerCategory))
	}

	train, holdout := Split(examples, opts.HoldoutFraction)
	if distinctCategories(train) < 2 {
		return nil, fmt.Errorf("%w: training split covers %d categories", ErrTrainingDataInsufficient, distinctCategories(train))
	}

	model, err := classifier.Fit(train, opts.Alpha)
	if err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}

	perCategory := make(map[string]int)
	for _, ex := range train {
		perCategory[ex.Category]++
	}
	model.Metrics = classifier.Metrics{
		TrainSize:       len(train),
		HoldoutSize:     len(holdout),
		HoldoutAccuracy: Accuracy(model, holdout),
		PerCategory:     perCategory,
	}
	return model, nil
}

// TrainAndSave trains and atomically installs the artifact at path
func TrainAndSave(examples []classifier.Example, path string, opts TrainOptions) (*classifier.Model, error) {
	model, err := Train(examples, opts)
	if err != nil {
		return nil, err
	}
	if err := model.Save(path); err != nil {
		return nil, err
	}
	return model, nil
}

// Split partitions examples into train and holdout by id hash, so the same corpus always
// splits the same way
func Split(examples []classifier.Example, fraction float64) (train, holdout []classifier.Example) {
	for _, ex := range examples {
		if fraction > 0 && sampled("holdout:"+ex.ID, fraction) {
			holdout = append(holdout, ex)
			continue
		}
		train = append(train, ex)
	}
	return train, holdout
}

// Accuracy is the share of examples whose arg-max category matches their label; 0 for none
func Accuracy(model *classifier.Model, examples []classifier.Example) float64 {
	if len(examples) == 0 {
		return 0
	}
	correct := 0
	for _, ex := range examples {
		category, _ := model.Top(model.Predict(classifier.Features(ex.Sender, ex.Subject, ex.BodyText)))
		if category == ex.Category {
			correct++
		}
	}
	return float64(correct) / float64(len(examples))
}

func distinctCategories(examples []classifier.Example) int {
	seen := make(map[string]struct{})
	for _, ex := range examples {
		seen[ex.Category] = struct{}{}
	}
	return len(seen)
}
