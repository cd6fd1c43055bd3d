package server

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func recorder(events *[]string, name string, startErr error) Component {
	return Func(name,
		func(context.Context) error {
			*events = append(*events, "start "+name)
			return startErr
		},
		func(context.Context) error {
			*events = append(*events, "stop "+name)
			return nil
		},
	)
}

func TestAppStartsInOrderAndStopsInReverse(t *testing.T) {
	var events []string
	app := New(nil, 0, recorder(&events, "a", nil), recorder(&events, "b", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"start a", "start b", "stop b", "stop a"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
}

func TestAppStopsStartedComponentsOnStartFailure(t *testing.T) {
	var events []string
	boom := errors.New("boom")
	app := New(nil, 0, recorder(&events, "a", nil), recorder(&events, "b", boom), recorder(&events, "c", nil))

	if err := app.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	want := []string{"start a", "start b", "stop a"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
}

func TestAppReturnsFatalError(t *testing.T) {
	var events []string
	fatal := make(chan error, 1)
	fatal <- errors.New("listen failed")
	app := New(nil, 0, recorder(&events, "http", nil)).WithFatal(fatal)

	if err := app.Run(context.Background()); err == nil || err.Error() != "listen failed" {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if events[len(events)-1] != "stop http" {
		t.Fatalf("expected http stopped, got %v", events)
	}
}
