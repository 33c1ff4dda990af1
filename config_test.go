package h1dispatch

import (
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateAggregatesEveryViolation(t *testing.T) {
	cfg := Config{
		HeaderLimit:      0,
		ReadBufLimit:     -1,
		WriteBufLimit:    0,
		KeepAliveTimeout: -time.Second,
	}

	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 4)
}

func TestConfigValidateZeroKeepAliveIsAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepAliveTimeout = 0
	assert.NoError(t, cfg.Validate(), "zero keep-alive timeout means disabled, not invalid")
}

func TestConfigValidateSingleViolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeaderLimit = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HeaderLimit")
}
