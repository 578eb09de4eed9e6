package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/logging"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithOutput(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.WithField("debt_id", 7).Warn("payment rejected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "payment rejected", entry["msg"])
	assert.Equal(t, float64(7), entry["debt_id"])
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}

func TestNewWithOutput_Invalid(t *testing.T) {
	_, err := logging.NewWithOutput(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = logging.NewWithOutput(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
