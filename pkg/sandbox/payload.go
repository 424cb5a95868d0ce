// Package sandbox orchestrates isolated execution of user feature
// scripts: serialized payloads across the boundary, ephemeral session
// directories, and pluggable backends (local Docker, remote HTTP,
// Kubernetes-acquired pods).
package sandbox

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cepheid-ml/cepheid/pkg/feature"
)

// Payload crosses the sandbox boundary inbound: the script source, the
// normalized datasets, and the execution budget.
type Payload struct {
	Script  string        `cbor:"script"`
	Known   []feature.Set `cbor:"known"`
	Timeout time.Duration `cbor:"timeout"`
}

// decMode decodes CBOR maps into string-keyed Go maps so payload values
// land directly in feature.Set shape.
var decMode cbor.DecMode

func init() {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cbor decode mode: " + err.Error())
	}
	decMode = dm
}

// EncodePayload serializes a payload for the boundary crossing.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes a payload written by EncodePayload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := decMode.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode sandbox payload: %w", err)
	}
	return p, nil
}

// EncodeSets serializes a slice of feature sets. Used for both the
// known sets crossing inbound over HTTP and the extracted results
// crossing outbound.
func EncodeSets(sets []feature.Set) ([]byte, error) {
	data, err := cbor.Marshal(sets)
	if err != nil {
		return nil, fmt.Errorf("encode feature sets: %w", err)
	}
	return data, nil
}

// DecodeSets deserializes feature sets written by EncodeSets.
func DecodeSets(data []byte) ([]feature.Set, error) {
	var sets []feature.Set
	if err := decMode.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("decode feature sets: %w", err)
	}
	return sets, nil
}
