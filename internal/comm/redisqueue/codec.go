package redisqueue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const envelopeVersion = 1

// envelope is the payload of both the job list and the cancel channel.
type envelope struct {
	Version        int    `cbor:"1,keyasint"`
	JobExecutionID string `cbor:"2,keyasint"`
	SentAtUnixNano int64  `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Deterministic encoding keeps identical messages byte-identical.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("redisqueue: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("redisqueue: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(jobExecutionID string, sentAt int64) ([]byte, error) {
	if strings.TrimSpace(jobExecutionID) == "" {
		return nil, errors.New("job execution id is required")
	}
	return encMode.Marshal(envelope{
		Version:        envelopeVersion,
		JobExecutionID: jobExecutionID,
		SentAtUnixNano: sentAt,
	})
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode message: %w", err)
	}
	if env.Version != envelopeVersion {
		return envelope{}, fmt.Errorf("unsupported message version %d", env.Version)
	}
	if env.JobExecutionID == "" {
		return envelope{}, errors.New("message carries no job execution id")
	}
	return env, nil
}
