package main

import (
	"testing"

	"github.com/Dev-aquilas225/stock-sub001/internal/app"
	_ "github.com/Dev-aquilas225/stock-sub001/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	if !app.InTestMode() {
		t.Fatal("expected test mode to be enabled by the guard")
	}
	main()
}
