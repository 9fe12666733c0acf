package bootstrap

import (
	"github.com/margo/trusted-tally/shared-lib/store"
)

// State is a step of trust establishment. Each state implies the files of
// every earlier state exist.
type State int

const (
	NoKey State = iota
	HasKey
	HasRequest
	AwaitingSignature
	Trusted
)

func (s State) String() string {
	switch s {
	case NoKey:
		return "NoKey"
	case HasKey:
		return "HasKey"
	case HasRequest:
		return "HasRequest"
	case AwaitingSignature:
		return "AwaitingSignature"
	case Trusted:
		return "Trusted"
	default:
		return "Unknown"
	}
}

// FileStatus reports one persisted artifact.
type FileStatus struct {
	Path    string
	Present bool
}

// Inspection is the bootstrap state as seen on disk.
type Inspection struct {
	State         State
	Key           FileStatus
	Request       FileStatus
	Certificate   FileStatus
	CACertificate FileStatus
}

// Inspect derives the state from file presence alone. It never touches the
// network and never validates contents; AwaitingSignature is only ever
// observed in-process.
func Inspect(paths Paths) (*Inspection, error) {
	in := &Inspection{
		Key:           FileStatus{Path: paths.Key},
		Request:       FileStatus{Path: paths.Request},
		Certificate:   FileStatus{Path: paths.Certificate},
		CACertificate: FileStatus{Path: paths.CACertificate},
	}
	for _, f := range []*FileStatus{&in.Key, &in.Request, &in.Certificate, &in.CACertificate} {
		ok, err := store.Exists(f.Path)
		if err != nil {
			return nil, err
		}
		f.Present = ok
	}

	switch {
	case !in.Key.Present:
		in.State = NoKey
	case in.Certificate.Present && in.CACertificate.Present:
		in.State = Trusted
	case !in.Request.Present:
		in.State = HasKey
	default:
		in.State = HasRequest
	}
	return in, nil
}

// Inspect reports the on-disk state of this sequencer's artifacts.
func (s *Sequencer) Inspect() (*Inspection, error) {
	return Inspect(s.cfg.Paths)
}
