package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertFeaturesToDataset(t *testing.T) {
	features := []FeatureVector{
		{
			"input_ids": []int{1, 2, 3},
			"start_t":   7,
			"labels":    [][]int{{0, 1}, {-1, -1}},
		},
		{
			"input_ids": []int{4, 5, 6},
			"start_t":   8,
			"labels":    [][]int{{2, 3}, {-1, -1}},
		},
	}

	dataset, names, err := ConvertFeaturesToDataset(features)
	require.NoError(t, err)
	assert.Equal(t, []string{"input_ids", "labels", "start_t"}, names)
	assert.Equal(t, 2, dataset.Len())
	assert.Equal(t, names, dataset.TensorNames())

	assert.Equal(t, []int{2, 3}, []int(dataset.Tensor("input_ids").Shape()))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, dataset.Tensor("input_ids").Data().([]int))

	assert.Equal(t, []int{2}, []int(dataset.Tensor("start_t").Shape()))
	assert.Equal(t, []int{7, 8}, dataset.Tensor("start_t").Data().([]int))

	assert.Equal(t, []int{2, 2, 2}, []int(dataset.Tensor("labels").Shape()))
	assert.Equal(t, []int{0, 1, -1, -1, 2, 3, -1, -1}, dataset.Tensor("labels").Data().([]int))
}

func TestConvertFeaturesToDatasetRaggedRows(t *testing.T) {
	features := []FeatureVector{
		{"input_ids": []int{1, 2, 3}},
		{"input_ids": []int{4, 5}},
	}
	_, _, err := ConvertFeaturesToDataset(features)
	assert.Error(t, err)
}

func TestConvertFeaturesToDatasetRaggedInner(t *testing.T) {
	features := []FeatureVector{
		{"labels": [][]int{{0, 1}, {2}}},
	}
	_, _, err := ConvertFeaturesToDataset(features)
	assert.Error(t, err)
}

func TestConvertFeaturesToDatasetInconsistentKeys(t *testing.T) {
	features := []FeatureVector{
		{"input_ids": []int{1}},
		{"other": []int{1}},
	}
	_, _, err := ConvertFeaturesToDataset(features)
	assert.Error(t, err)
}

func TestConvertFeaturesToDatasetUnsupportedType(t *testing.T) {
	features := []FeatureVector{
		{"input_ids": "not a tensor"},
	}
	_, _, err := ConvertFeaturesToDataset(features)
	assert.Error(t, err)
}

func TestConvertFeaturesToDatasetEmpty(t *testing.T) {
	dataset, names, err := ConvertFeaturesToDataset(nil)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, 0, dataset.Len())
}
