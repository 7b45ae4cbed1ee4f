package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeCallFrame(t *testing.T) {
	f := &Frame{
		RpcID:     12345,
		Type:      Call,
		ServantID: 100,
		Interface: "Arith",
		Method:    "Add",
		Payload:   []byte("hello world"),
	}

	var buf bytes.Buffer
	c := NewCodec()
	if err := c.Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := c.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.RpcID != f.RpcID || got.Type != f.Type || got.ServantID != f.ServantID {
		t.Fatalf("header mismatch: got %+v, want %+v", got, f)
	}
	if got.Interface != f.Interface || got.Method != f.Method {
		t.Fatalf("routing fields mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %s, want %s", got.Payload, f.Payload)
	}
}

func TestEncodeDecodeReturnFrame(t *testing.T) {
	f := &Frame{
		RpcID:   7,
		Type:    Return,
		Payload: []byte(`{"Result":8}`),
	}

	var buf bytes.Buffer
	c := NewCodec()
	if err := c.Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := c.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ServantID != 0 || got.Interface != "" || got.Method != "" {
		t.Fatalf("return frame should carry no routing fields, got %+v", got)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %s, want %s", got.Payload, f.Payload)
	}
}

func TestDecodeTruncatedFrameIsReadFailure(t *testing.T) {
	f := &Frame{RpcID: 1, Type: Return, Payload: []byte("0123456789")}
	var buf bytes.Buffer
	c := NewCodec()
	if err := c.Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	if _, err := c.Decode(truncated); err == nil {
		t.Fatal("expected error decoding truncated frame, got nil")
	} else if err != io.ErrUnexpectedEOF && !bytes.Contains([]byte(err.Error()), []byte("truncated")) {
		t.Fatalf("expected a truncation error, got: %v", err)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	f := &Frame{RpcID: 1, Type: Return, Payload: make([]byte, 128)}
	var buf bytes.Buffer
	c := &Codec{MaxFrameSize: 64}
	if err := (&Codec{}).Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := c.Decode(&buf); err == nil {
		t.Fatal("expected oversized frame to be rejected")
	}
}

func TestMessageTypeComposites(t *testing.T) {
	if !(Return | Exception).Has(Return) {
		t.Fatal("Return|Exception should have Return bit set")
	}
	if !(Return | Exception).Has(Exception) {
		t.Fatal("Return|Exception should have Exception bit set")
	}
	if Call.Has(Return) {
		t.Fatal("Call should not have Return bit set")
	}
}
