package timex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, NextBackoff(100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, NextBackoff(800*time.Millisecond, time.Second))
	assert.Equal(t, 4*time.Second, NextBackoff(2*time.Second, 0))
}

func TestNowMsMoves(t *testing.T) {
	a := NowMs()
	time.Sleep(2 * time.Millisecond)
	assert.Greater(t, NowMs(), a)
}
