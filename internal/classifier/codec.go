package classifier

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

const codecVersion = 1

type envelope struct {
	Kind    string             `msgpack:"kind"`
	Version int                `msgpack:"version"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type linearState struct {
	Opts    Options   `msgpack:"opts"`
	Mean    []float64 `msgpack:"mean"`
	Scale   []float64 `msgpack:"scale"`
	Weights []float64 `msgpack:"weights"`
}

type selfTrainingState struct {
	Opts          Options     `msgpack:"opts"`
	Base          linearState `msgpack:"base"`
	PseudoLabeled int         `msgpack:"pseudo_labeled"`
}

func (m *LinearSVM) state() linearState {
	return linearState{Opts: m.opts, Mean: m.mean, Scale: m.scale, Weights: m.weights}
}

func linearFromState(st linearState) (*LinearSVM, error) {
	if len(st.Weights) != len(st.Mean)+1 || len(st.Scale) != len(st.Mean) {
		return nil, fmt.Errorf("decode linear svm: inconsistent dimensions")
	}
	return &LinearSVM{opts: st.Opts.withDefaults(), mean: st.Mean, scale: st.Scale, weights: st.Weights}, nil
}

func Marshal(c Classifier) ([]byte, error) {
	var payload interface{}
	switch m := c.(type) {
	case *LinearSVM:
		if !m.Fitted() {
			return nil, ErrNotFitted
		}
		payload = m.state()
	case *SelfTrainingSVM:
		if !m.base.Fitted() {
			return nil, ErrNotFitted
		}
		payload = selfTrainingState{Opts: m.opts, Base: m.base.state(), PseudoLabeled: m.pseudoLabeled}
	default:
		return nil, fmt.Errorf("encode classifier: unsupported type %T", c)
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode classifier payload: %w", err)
	}
	return msgpack.Marshal(&envelope{Kind: c.Kind(), Version: codecVersion, Payload: raw})
}

func Unmarshal(data []byte) (Classifier, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode classifier envelope: %w", err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("decode classifier: unsupported version %d", env.Version)
	}
	switch env.Kind {
	case KindLinearSVM:
		var st linearState
		if err := msgpack.Unmarshal(env.Payload, &st); err != nil {
			return nil, fmt.Errorf("decode linear svm: %w", err)
		}
		return linearFromState(st)
	case KindSelfTrainingSVM:
		var st selfTrainingState
		if err := msgpack.Unmarshal(env.Payload, &st); err != nil {
			return nil, fmt.Errorf("decode self-training svm: %w", err)
		}
		base, err := linearFromState(st.Base)
		if err != nil {
			return nil, err
		}
		return &SelfTrainingSVM{opts: st.Opts.withDefaults(), base: base, pseudoLabeled: st.PseudoLabeled}, nil
	default:
		return nil, fmt.Errorf("decode classifier: unsupported kind %q", env.Kind)
	}
}

func Save(w io.Writer, c Classifier) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func Load(r io.Reader) (Classifier, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("read classifier: %w", err)
	}
	return Unmarshal(buf.Bytes())
}

func SaveFile(path string, c Classifier) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func LoadFile(path string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
