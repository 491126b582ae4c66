package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/user"
)

func TestRollbarLogger_print(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := NewRollbarLogger(log.New(buf, "GUEST : ", 0), &core.Config{Env: "TEST", Debug: true})

	logger.Warn("guest sessions were modified by another writer",
		map[string]interface{}{"storedVersion": 3, "expectedVersion": 2},
		user.User{ID: "u1"},
	)
	assert.Equal(t,
		"GUEST : WARN: guest sessions were modified by another writer expectedVersion=2 storedVersion=3 user=u1\n",
		buf.String(),
	)

	buf.Reset()
	logger.Error("converting guest", errors.New("boom"))
	assert.Contains(t, buf.String(), "GUEST : ERROR: converting guest\nboom")
}
