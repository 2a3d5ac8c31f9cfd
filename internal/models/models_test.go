package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraMapValueAndScan(t *testing.T) {
	m := ExtraMap{"weekly_low": "2500", "session": "asia"}

	v, err := m.Value()
	require.NoError(t, err)
	s, ok := v.(string)
	require.True(t, ok)

	var got ExtraMap
	require.NoError(t, got.Scan(s))
	assert.Equal(t, m, got)

	require.NoError(t, got.Scan([]byte(s)))
	assert.Equal(t, m, got)
}

func TestExtraMapEmptyAndNull(t *testing.T) {
	var m ExtraMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	got := ExtraMap{"stale": "1"}
	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got)

	assert.Error(t, got.Scan(42))
}
