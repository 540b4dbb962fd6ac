package core

import (
	"errors"
	"testing"
)

// Event constructor & helper method tests
func TestEvent_ConstructorsAndMethods(t *testing.T) {
	e := NewEvent("inv-123", "authorA")
	if e.Author != "authorA" || e.InvocationID != "inv-123" || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}

	msg := NewMessageEvent("agent1", "hello world")
	if msg.Content == nil || msg.Content.Role != "assistant" || len(msg.Content.Parts) != 1 {
		t.Fatalf("NewMessageEvent malformed: %+v", msg)
	}

	user := NewUserMessageEvent("inv-123", "hi")
	if user.Content == nil || user.Content.Role != "user" || user.InvocationID != "inv-123" {
		t.Fatalf("NewUserMessageEvent malformed: %+v", user)
	}

	callArgs := "test"
	fCall := NewFunctionCallEvent("agent2", "do_stuff", callArgs)
	calls := fCall.GetFunctionCalls()
	if len(calls) != 1 || calls[0].Name != "do_stuff" || calls[0].Arguments != callArgs {
		t.Fatalf("GetFunctionCalls extraction failed: %+v", calls)
	}

	fRespOK := NewFunctionResponseEvent("agent2", "call-1", "do_stuff", 42, nil)
	resps := fRespOK.GetFunctionResponses()
	if len(resps) != 1 || resps[0].Response.(int) != 42 || resps[0].Error != "" {
		t.Fatalf("Function response success extraction failed: %+v", resps)
	}

	fRespErr := NewFunctionResponseEvent("agent2", "call-2", "do_stuff", nil, errors.New("boom"))
	resps = fRespErr.GetFunctionResponses()
	if resps[0].Error == "" {
		t.Fatalf("Expected error message in function response: %+v", resps[0])
	}
}

func TestEvent_IsFinalResponseLogic(t *testing.T) {
	e := NewEvent("inv", "authorA")
	if !e.IsFinalResponse() {
		t.Error("Expected basic event to be final")
	}

	partial := true
	e2 := NewEvent("inv", "agent")
	e2.Partial = &partial
	if e2.IsFinalResponse() {
		t.Error("Partial event should not be final")
	}

	e3 := NewFunctionCallEvent("agent", "f", "")
	if e3.IsFinalResponse() {
		t.Error("Event with function call should not be final")
	}

	e4 := NewFunctionResponseEvent("agent", "call-3", "f", "ok", nil)
	if e4.IsFinalResponse() {
		t.Error("Event with function response should not be final")
	}

	skip := true
	e5 := NewEvent("inv", "agent")
	e5.Partial = &partial
	e5.Actions.SkipSummarization = &skip
	if !e5.IsFinalResponse() {
		t.Error("SkipSummarization should force final")
	}

	e6 := NewEvent("inv", "agent")
	e6.LongRunningToolIDs = []string{"tool1"}
	if !e6.IsFinalResponse() {
		t.Error("Long running tool should mark final")
	}
}

func TestEvent_IDUniqueness(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Error("Expected unique IDs")
	}
}

// IO Parts discrimination tests
func TestParts_DiscriminatedUnion(t *testing.T) {
	parts := []Part{
		TextPart{Text: "hello"},
		DataPart{Data: map[string]any{"k": "v"}},
		FilePart{File: FilePartFile{URI: "file://x"}},
		BlobPart{Blob: Blob{MimeType: "audio/pcm", Data: []byte{1, 2}}},
		FunctionCallPart{FunctionCall: FunctionCall{Name: "f"}},
		FunctionResponsePart{FunctionResponse: FunctionResponse{Name: "f"}},
	}
	for _, p := range parts {
		switch pt := p.(type) {
		case TextPart, DataPart, FilePart, BlobPart, FunctionCallPart, FunctionResponsePart:
		default:
			t.Fatalf("Unexpected part type: %T (%v)", pt, pt)
		}
	}
}

func TestEvent_GetAudioBlobs(t *testing.T) {
	ev := NewEvent("inv", "agent")
	ev.Content = &Content{Role: "assistant", Parts: []Part{
		TextPart{Text: "speaking"},
		BlobPart{Blob: Blob{MimeType: "audio/pcm", Data: []byte{1}}},
		BlobPart{Blob: Blob{MimeType: "image/png", Data: []byte{2}}},
		BlobPart{Blob: Blob{MimeType: "audio/wav", Data: []byte{3}}},
	}}

	blobs := ev.GetAudioBlobs()
	if len(blobs) != 2 {
		t.Fatalf("expected 2 audio blobs, got %d", len(blobs))
	}
	if blobs[0].MimeType != "audio/pcm" || blobs[1].MimeType != "audio/wav" {
		t.Fatalf("audio blobs out of order: %+v", blobs)
	}
}

func TestEvent_TranscriptionConstructors(t *testing.T) {
	in := NewInputTranscriptionEvent("inv-1", Transcription{Text: "hello", Finished: true})
	if in.Author != "user" || in.InputTranscription == nil || in.InputTranscription.Text != "hello" {
		t.Fatalf("input transcription event malformed: %+v", in)
	}
	if in.OutputTranscription != nil {
		t.Fatal("input transcription event must not carry output transcription")
	}

	out := NewOutputTranscriptionEvent("inv-1", "speaker", Transcription{Text: "hi there"})
	if out.Author != "speaker" || out.OutputTranscription == nil || out.OutputTranscription.Text != "hi there" {
		t.Fatalf("output transcription event malformed: %+v", out)
	}
}
