package logging_test

import (
	"testing"

	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestNamedLoggersJoinNames(t *testing.T) {
	log := logging.NewLoggerFromEnv("dev")

	stats := log.Named("service").Named("stats")

	assert.Equal(t, "service.stats", stats.GetName())
	assert.Equal(t, "", log.GetName())
}

func TestTestLoggerIsSilent(t *testing.T) {
	log := logging.NewTestLogger()

	assert.NotPanics(t, func() {
		log.Named("x").With(logging.String("k", "v")).Info("dropped")
		log.SetLevel(logging.ErrorLevel)
		log.AtExit()
	})
}
