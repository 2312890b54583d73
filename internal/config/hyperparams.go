package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/dist"
	"gocdr/internal/errors"
	"gocdr/internal/objective"
)

// Hyperparams is every recognized model setting. The json tags are the keys
// of the saved metadata.
type Hyperparams struct {
	// Architecture
	InputProjectionUnits      int     `json:"n_units_input_projection" yaml:"n_units_input_projection"`
	InputProjectionLayers     int     `json:"n_layers_input_projection" yaml:"n_layers_input_projection"`
	InputProjectionActivation string  `json:"input_projection_activation" yaml:"input_projection_activation"`
	RNNUnits                  int     `json:"n_units_rnn" yaml:"n_units_rnn"`
	RNNLayers                 int     `json:"n_layers_rnn" yaml:"n_layers_rnn"`
	RNNTimeProjectionDepth    int     `json:"n_layers_rnn_projection" yaml:"n_layers_rnn_projection"`
	RNNActivation             string  `json:"rnn_activation" yaml:"rnn_activation"`
	RecurrentActivation       string  `json:"recurrent_activation" yaml:"recurrent_activation"`
	IRFUnits                  int     `json:"n_units_irf" yaml:"n_units_irf"`
	IRFLayers                 int     `json:"n_layers_irf" yaml:"n_layers_irf"`
	IRFActivation             string  `json:"irf_activation" yaml:"irf_activation"`
	InputDropoutRate          float64 `json:"input_dropout_rate" yaml:"input_dropout_rate"`
	RNNHDropoutRate           float64 `json:"rnn_h_dropout_rate" yaml:"rnn_h_dropout_rate"`
	RNNBottomUpDropoutRate    float64 `json:"rnn_bottom_up_dropout_rate" yaml:"rnn_bottom_up_dropout_rate"`
	IRFDropoutRate            float64 `json:"irf_dropout_rate" yaml:"irf_dropout_rate"`

	// Priors
	InterceptPriorSD         bayes.ScaleSpec `json:"intercept_prior_sd" yaml:"intercept_prior_sd"`
	CoefficientPriorSD       bayes.ScaleSpec `json:"coef_prior_sd" yaml:"coef_prior_sd"`
	WeightPriorSD            bayes.ScaleSpec `json:"weight_prior_sd" yaml:"weight_prior_sd"`
	BiasPriorSD              bayes.ScaleSpec `json:"bias_prior_sd" yaml:"bias_prior_sd"`
	PosteriorToPriorSDRatio  float64         `json:"posterior_to_prior_sd_ratio" yaml:"posterior_to_prior_sd_ratio"`
	RanefToFixefPriorSDRatio float64         `json:"ranef_to_fixef_prior_sd_ratio" yaml:"ranef_to_fixef_prior_sd_ratio"`
	DeclarePriorsFixef       bool            `json:"declare_priors_fixef" yaml:"declare_priors_fixef"`
	DeclarePriorsRanef       bool            `json:"declare_priors_ranef" yaml:"declare_priors_ranef"`

	// Output distribution
	AsymmetricErrorDist bool    `json:"asymmetric_error" yaml:"asymmetric_error"`
	StandardizeResponse bool    `json:"standardize_response" yaml:"standardize_response"`
	YSDTrainable        bool    `json:"y_sd_trainable" yaml:"y_sd_trainable"`
	YSDInit             float64 `json:"y_sd_init" yaml:"y_sd_init"`
	YSDPriorSD          float64 `json:"y_sd_prior_sd" yaml:"y_sd_prior_sd"`
	YSkewnessPriorSD    float64 `json:"y_skewness_prior_sd" yaml:"y_skewness_prior_sd"`
	YTailweightPriorSD  float64 `json:"y_tailweight_prior_sd" yaml:"y_tailweight_prior_sd"`
	YTailweightPriorLoc float64 `json:"y_tailweight_prior_loc" yaml:"y_tailweight_prior_loc"`

	// Numerics
	Constraint string  `json:"constraint" yaml:"constraint"`
	Epsilon    float64 `json:"epsilon" yaml:"epsilon"`

	// Optimization
	OptimizerName     string  `json:"optim_name" yaml:"optim_name"`
	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate"`
	MinibatchSize     int     `json:"minibatch_size" yaml:"minibatch_size"`
	ScaleLossWithData bool    `json:"scale_loss_with_data" yaml:"scale_loss_with_data"`
	Regularizer       string  `json:"regularizer_name" yaml:"regularizer_name"`
	RegularizerScale  float64 `json:"regularizer_scale" yaml:"regularizer_scale"`
	LossFilterNSDs    float64 `json:"loss_filter_n_sds" yaml:"loss_filter_n_sds"`
	EMADecay          float64 `json:"ema_decay" yaml:"ema_decay"`
	Seed              uint64  `json:"seed" yaml:"seed"`

	// Diagnostics
	NSupport int `json:"n_support" yaml:"n_support"`
}

// DefaultHyperparams returns the settings used for any key not supplied.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		InputProjectionUnits:      8,
		InputProjectionLayers:     1,
		InputProjectionActivation: "tanh",
		RNNUnits:                  8,
		RNNLayers:                 1,
		RNNTimeProjectionDepth:    1,
		RNNActivation:             "tanh",
		RecurrentActivation:       "sigmoid",
		IRFUnits:                  8,
		IRFLayers:                 2,
		IRFActivation:             "tanh",

		InterceptPriorSD:         bayes.Numeric(1),
		CoefficientPriorSD:       bayes.Numeric(1),
		WeightPriorSD:            bayes.Heuristic(bayes.HeuristicGlorot),
		BiasPriorSD:              bayes.Numeric(1),
		PosteriorToPriorSDRatio:  0.01,
		RanefToFixefPriorSDRatio: 0.1,
		DeclarePriorsFixef:       true,
		DeclarePriorsRanef:       true,

		YSDTrainable:        true,
		YSDPriorSD:          1,
		YSkewnessPriorSD:    1,
		YTailweightPriorSD:  1,
		YTailweightPriorLoc: 1,
		StandardizeResponse: true,

		Constraint: "softplus",
		Epsilon:    1e-5,

		OptimizerName:    "Adam",
		LearningRate:     0.001,
		MinibatchSize:    128,
		Regularizer:      "",
		RegularizerScale: 0,
		LossFilterNSDs:   0,
		EMADecay:         0.999,

		NSupport: 1000,
	}
}

// LoadHyperparams reads a YAML file over the defaults. Unknown keys are an
// error here, unlike saved metadata.
func LoadHyperparams(path string) (Hyperparams, error) {
	hp := DefaultHyperparams()
	if path == "" {
		return hp, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return hp, errors.Wrapf(err, "failed to read hyperparameters %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&hp); err != nil && err != io.EOF {
		return hp, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("failed to parse hyperparameters %s: %w", path, err))
	}
	if err := hp.Validate(); err != nil {
		return hp, err
	}
	return hp, nil
}

// Validate checks ranges and names. The optimizer name is checked when the
// objective is assembled.
func (hp Hyperparams) Validate() error {
	positive := map[string]int{
		"n_units_input_projection": hp.InputProjectionUnits,
		"n_units_rnn":              hp.RNNUnits,
		"n_units_irf":              hp.IRFUnits,
		"minibatch_size":           hp.MinibatchSize,
		"n_support":                hp.NSupport,
	}
	for key, v := range positive {
		if v < 1 {
			return invalid("%s must be positive, got %d", key, v)
		}
	}
	nonNegative := map[string]int{
		"n_layers_input_projection": hp.InputProjectionLayers,
		"n_layers_rnn":              hp.RNNLayers,
		"n_layers_rnn_projection":   hp.RNNTimeProjectionDepth,
		"n_layers_irf":              hp.IRFLayers,
	}
	for key, v := range nonNegative {
		if v < 0 {
			return invalid("%s must be non-negative, got %d", key, v)
		}
	}
	for key, rate := range map[string]float64{
		"input_dropout_rate":         hp.InputDropoutRate,
		"rnn_h_dropout_rate":         hp.RNNHDropoutRate,
		"rnn_bottom_up_dropout_rate": hp.RNNBottomUpDropoutRate,
		"irf_dropout_rate":           hp.IRFDropoutRate,
	} {
		if rate < 0 || rate >= 1 {
			return invalid("%s must be in [0, 1), got %v", key, rate)
		}
	}
	for _, s := range []bayes.ScaleSpec{hp.InterceptPriorSD, hp.CoefficientPriorSD, hp.WeightPriorSD, hp.BiasPriorSD} {
		if err := s.Validate(); err != nil {
			return errors.WithCode(errors.CodeConfigInvalid, err)
		}
	}
	if !(hp.PosteriorToPriorSDRatio > 0) || !(hp.RanefToFixefPriorSDRatio > 0) {
		return invalid("prior sd ratios must be positive")
	}
	if hp.YSDInit < 0 {
		return invalid("y_sd_init must be non-negative, got %v", hp.YSDInit)
	}
	if !(hp.YSDPriorSD > 0) || !(hp.YSkewnessPriorSD > 0) || !(hp.YTailweightPriorSD > 0) {
		return invalid("output parameter prior sds must be positive")
	}
	if !(hp.YTailweightPriorLoc > 0) {
		return invalid("y_tailweight_prior_loc must be positive, got %v", hp.YTailweightPriorLoc)
	}
	if _, err := dist.ParseConstraint(hp.Constraint); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if !(hp.Epsilon > 0) {
		return invalid("epsilon must be positive, got %v", hp.Epsilon)
	}
	if !(hp.LearningRate > 0) {
		return invalid("learning_rate must be positive, got %v", hp.LearningRate)
	}
	if _, err := objective.ParseRegularizer(hp.Regularizer, hp.RegularizerScale); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if _, err := objective.NewLossFilter(hp.EMADecay, hp.LossFilterNSDs); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

// invalid marks a range error as both an application config error and a
// model configuration error.
func invalid(format string, args ...any) error {
	return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("%w: "+format, append([]any{core.ErrConfiguration}, args...)...))
}

// Pack returns the metadata map written next to saved parameters.
func (hp Hyperparams) Pack() map[string]any {
	data, err := json.Marshal(hp)
	if err != nil {
		panic(fmt.Sprintf("config: hyperparameters do not marshal: %v", err))
	}
	md := make(map[string]any)
	if err := DecodeJSON(data, &md); err != nil {
		panic(fmt.Sprintf("config: hyperparameters do not unmarshal: %v", err))
	}
	return md
}

// DecodeJSON unmarshals data keeping numbers in untyped targets as
// json.Number, so integers such as the seed survive past 2^53.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Keys lists the recognized metadata keys in sorted order.
func Keys() []string {
	md := DefaultHyperparams().Pack()
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnpackHyperparams restores settings from saved metadata. Missing keys take
// their defaults; unrecognized keys are returned, sorted, for the caller to
// report.
func UnpackHyperparams(md map[string]any) (Hyperparams, []string, error) {
	hp := DefaultHyperparams()
	known := hp.Pack()
	recognized := make(map[string]any, len(md))
	var unrecognized []string
	for k, v := range md {
		if _, ok := known[k]; ok {
			recognized[k] = v
		} else {
			unrecognized = append(unrecognized, k)
		}
	}
	sort.Strings(unrecognized)

	data, err := json.Marshal(recognized)
	if err != nil {
		return hp, unrecognized, errors.SerializationError("failed to encode metadata", err)
	}
	if err := DecodeJSON(data, &hp); err != nil {
		return hp, unrecognized, errors.SerializationError("failed to decode metadata", err)
	}
	return hp, unrecognized, nil
}

// Report renders one "key: value" line per setting.
func (hp Hyperparams) Report(indent int) string {
	md := hp.Pack()
	pad := strings.Repeat(" ", indent)
	var b strings.Builder
	for _, k := range Keys() {
		fmt.Fprintf(&b, "%s%s: %v\n", pad, k, md[k])
	}
	return b.String()
}

// SuiteConfig maps the prior settings onto a bayes.Config.
func (hp Hyperparams) SuiteConfig() (bayes.Config, error) {
	c, err := dist.ParseConstraint(hp.Constraint)
	if err != nil {
		return bayes.Config{}, err
	}
	return bayes.Config{
		WeightPriorSD:            hp.WeightPriorSD,
		BiasPriorSD:              hp.BiasPriorSD,
		PosteriorToPriorSDRatio:  hp.PosteriorToPriorSDRatio,
		RanefToFixefPriorSDRatio: hp.RanefToFixefPriorSDRatio,
		DeclarePriorsFixef:       hp.DeclarePriorsFixef,
		DeclarePriorsRanef:       hp.DeclarePriorsRanef,
		Constraint:               c,
		Epsilon:                  hp.Epsilon,
	}, nil
}
