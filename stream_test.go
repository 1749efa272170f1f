package anvil

import (
	"errors"
	"testing"
	"time"
)

func TestSenderDeliversInOrder(t *testing.T) {
	sender, ch, stop := NewSender(4)
	defer stop()

	for _, text := range []string{"a", "b", "c"} {
		if err := sender.Send(AgentMessage{AgentID: "x", Event: ChatEvent{Type: EventText, Text: text}}); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got := <-ch
		if got.Event.Text != want {
			t.Errorf("received %q, want %q", got.Event.Text, want)
		}
	}
}

func TestSenderClosedRejectsSends(t *testing.T) {
	sender, _, stop := NewSender(1)
	stop()
	err := sender.Send(AgentMessage{AgentID: "x"})
	if !errors.Is(err, ErrSenderClosed) {
		t.Errorf("err = %v, want ErrSenderClosed", err)
	}
	if !sender.IsClosed() {
		t.Error("IsClosed must report true after stop")
	}
}

func TestSenderUnblocksPendingSendOnStop(t *testing.T) {
	sender, _, stop := NewSender(0) // unbuffered, nobody reading

	result := make(chan error, 1)
	go func() {
		result <- sender.Send(AgentMessage{AgentID: "x"})
	}()

	// The send is parked on the full channel; stopping must release it.
	time.Sleep(10 * time.Millisecond)
	stop()

	select {
	case err := <-result:
		if !errors.Is(err, ErrSenderClosed) {
			t.Errorf("err = %v, want ErrSenderClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after stop")
	}
}

func TestSenderStopIsIdempotent(t *testing.T) {
	_, _, stop := NewSender(1)
	stop()
	stop() // must not panic
}
