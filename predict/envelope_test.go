package predict

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/rollnav/accesscore/osm"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := envelope{
		ID:   "req-1",
		Kind: kindPredict,
		Inputs: []Input{{
			StableID: "way/101",
			Tags:     map[string]string{"highway": "footway"},
			Known:    map[string]string{"surface": "asphalt"},
			Missing:  []string{"smoothness"},
		}},
	}

	var buf bytes.Buffer
	if err := encodeEnvelope(&buf, in); err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}

	out, err := decodeEnvelope(&buf)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if out.ID != in.ID || out.Kind != in.Kind {
		t.Errorf("header = %s/%s, want %s/%s", out.ID, out.Kind, in.ID, in.Kind)
	}
	if len(out.Inputs) != 1 || out.Inputs[0].StableID != "way/101" {
		t.Errorf("inputs = %+v", out.Inputs)
	}
	if out.Inputs[0].Known["surface"] != "asphalt" {
		t.Errorf("known = %v", out.Inputs[0].Known)
	}
}

func TestEnvelopeResultRoundTrip(t *testing.T) {
	in := envelope{
		ID:   "req-2",
		Kind: kindPredict,
		Result: []Result{{
			StableID: "way/101",
			Fields: []FieldPrediction{{
				Field:      osm.FieldSurface,
				Value:      "asphalt",
				Confidence: 0.91,
				Alternatives: []osm.Alternative{
					{Value: "asphalt", Probability: 0.91},
					{Value: "paved", Probability: 0.06},
				},
				ContributingFeatures: []string{"highway", "lit"},
			}},
		}},
	}

	var buf bytes.Buffer
	if err := encodeEnvelope(&buf, in); err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	out, err := decodeEnvelope(&buf)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}

	if len(out.Result) != 1 || len(out.Result[0].Fields) != 1 {
		t.Fatalf("result = %+v", out.Result)
	}
	fp := out.Result[0].Fields[0]
	if fp.Value != "asphalt" || fp.Confidence != 0.91 || len(fp.Alternatives) != 2 {
		t.Errorf("field prediction = %+v", fp)
	}
}

func TestEnvelopeFramingBoundaries(t *testing.T) {
	var buf bytes.Buffer
	encodeEnvelope(&buf, envelope{ID: "a", Kind: kindInit})
	encodeEnvelope(&buf, envelope{ID: "b", Kind: kindClearCache})

	first, err := decodeEnvelope(&buf)
	if err != nil || first.ID != "a" {
		t.Fatalf("first = %+v, err %v", first, err)
	}
	second, err := decodeEnvelope(&buf)
	if err != nil || second.ID != "b" {
		t.Fatalf("second = %+v, err %v", second, err)
	}
	if _, err := decodeEnvelope(&buf); err != io.EOF {
		t.Errorf("empty stream = %v, want io.EOF", err)
	}
}

func TestDecodeEnvelopeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, 100)
	buf.Write(prefix)
	buf.WriteString("short")

	if _, err := decodeEnvelope(&buf); err == nil {
		t.Error("truncated body decoded without error")
	}
}
