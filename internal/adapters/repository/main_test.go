package repository

import (
	"os"
	"testing"

	"github.com/okian/starsignal/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
