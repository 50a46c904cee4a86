package jsonrpc

import (
	"errors"
	"testing"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/danmuck/rpcmux/internal/testutil/testlog"
)

func TestClassifierTwoWayByNumericID(t *testing.T) {
	testlog.Start(t)
	msg, err := Classifier{}.Classify([]byte(`{"id":17,"method":"m","params":[1]}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !msg.TwoWay || msg.ID != 17 || msg.Error {
		t.Fatalf("unexpected classification: %+v", msg)
	}
	if got := FieldsOf(msg).Method(); got != "m" {
		t.Fatalf("method=%q", got)
	}
	if got := string(FieldsOf(msg).Params()); got != "[1]" {
		t.Fatalf("params=%s", got)
	}
}

func TestClassifierErrorResponse(t *testing.T) {
	testlog.Start(t)
	msg, err := Classifier{}.Classify([]byte(`{"id":3,"error":{"code":-32601,"message":"x"}}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !msg.TwoWay || msg.ID != 3 || !msg.Error {
		t.Fatalf("unexpected classification: %+v", msg)
	}
}

func TestClassifierNonNumericIDsAreOneWay(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{
		`{"method":"n"}`,
		`{"id":null,"method":"n"}`,
		`{"id":"7","method":"n"}`,
		`{"id":-1,"method":"n"}`,
		`{"id":1.5,"method":"n"}`,
		`{"id":4294967296,"method":"n"}`,
	} {
		msg, err := Classifier{}.Classify([]byte(raw))
		if err != nil {
			t.Fatalf("classify %s: %v", raw, err)
		}
		if msg.TwoWay {
			t.Fatalf("%s classified two-way with id %d", raw, msg.ID)
		}
	}
}

func TestClassifierMaxUint32ID(t *testing.T) {
	testlog.Start(t)
	msg, err := Classifier{}.Classify([]byte(`{"id":4294967295,"result":null}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !msg.TwoWay || msg.ID != 4294967295 {
		t.Fatalf("unexpected classification: %+v", msg)
	}
}

func TestClassifierRejectsNonObjects(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{`[1,2]`, `null`, `"text"`, `{"id":`, `garbage`} {
		_, err := Classifier{}.Classify([]byte(raw))
		if !errors.Is(err, frame.ErrUnclassified) || !errors.Is(err, ErrNotObject) {
			t.Fatalf("%s: expected ErrUnclassified+ErrNotObject, got %v", raw, err)
		}
	}
}

func TestEncodeWrapsInLineFeeds(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(Request{Method: "m", Params: []int{1}}.WithID(9))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "\n{\"id\":9,\"method\":\"m\",\"params\":[1]}\n"
	if string(raw) != want {
		t.Fatalf("got %q want %q", raw, want)
	}

	raw, err = Encode(Notification{Method: "n"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != "\n{\"method\":\"n\"}\n" {
		t.Fatalf("unexpected notification encoding %q", raw)
	}

	raw, err = Encode(ErrorResponse{Error: Errorf(CodeMethodNotFound, "nope")}.WithID(2))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != "\n{\"id\":2,\"error\":{\"code\":-32601,\"message\":\"nope\"}}\n" {
		t.Fatalf("unexpected error encoding %q", raw)
	}
}

func TestDecodedFramesRoundTripThroughDecoder(t *testing.T) {
	testlog.Start(t)
	a, _ := Encode(Response{Result: 5}.WithID(1))
	b, _ := Encode(Notification{Method: "tick", Params: []int{2}})
	stream := append(append([]byte{}, a...), b...)

	dec := frame.NewDecoder(bytesReader(stream), Classifier{}, frame.DefaultLimits())
	var got []frame.Message
	for msg := range dec.All() {
		got = append(got, msg)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if !got[0].TwoWay || got[0].ID != 1 {
		t.Fatalf("unexpected first frame %+v", got[0])
	}
	if got[1].TwoWay || FieldsOf(got[1]).Method() != "tick" {
		t.Fatalf("unexpected second frame %+v", got[1])
	}
}

func TestErrorHelpers(t *testing.T) {
	testlog.Start(t)
	err := error(Errorf(CodeInvalidParams, "depth %d", 100))
	if !IsCode(err, CodeInvalidParams) {
		t.Fatalf("expected invalid params code")
	}
	if IsCode(errors.New("plain"), CodeInvalidParams) {
		t.Fatalf("plain error matched a code")
	}
	if err.Error() != "jsonrpc: depth 100 (code -32602)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
