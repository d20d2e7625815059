package segmentation

import "errors"

var (
	ErrDatasetNotFound     = errors.New("dataset not found")
	ErrJobNotFound         = errors.New("analysis job not found")
	ErrEmptyDataset        = errors.New("no customer data found for this dataset")
	ErrModelUnavailable    = errors.New("segmentation model unavailable")
	ErrFeatureMapping      = errors.New("no usable features")
	ErrInvalidClusterCount = errors.New("invalid cluster count")
)
