package controls

import (
	"errors"
	"fmt"

	"github.com/flowworksio/hydronet-simulator/core"
)

// ObjectKind distinguishes the two element namespaces of the network
// model.
type ObjectKind string

const (
	KindNode ObjectKind = "node"
	KindLink ObjectKind = "link"
)

// ObjectRef names one network element. Conditions and actions hold
// refs instead of element pointers, so element removal invalidates
// them at a single point: the registry lookup.
type ObjectRef struct {
	Kind ObjectKind
	Name string
}

func NodeRef(name string) ObjectRef { return ObjectRef{Kind: KindNode, Name: name} }
func LinkRef(name string) ObjectRef { return ObjectRef{Kind: KindLink, Name: name} }

func (r ObjectRef) String() string { return string(r.Kind) + ":" + r.Name }

// resolveErr classifies a registry lookup failure: at construction
// time it surfaces as-is (a construction error); after construction
// the same failure means the element was removed underneath a live
// control, which must be distinguishable as a stale reference.
func staleErr(err error) error {
	if errors.Is(err, core.ErrNodeNotFound) || errors.Is(err, core.ErrLinkNotFound) {
		return fmt.Errorf("%w: %v", ErrStaleReference, err)
	}
	return err
}

// checkExists validates a ref against the model at construction time.
func checkExists(wn *core.WaterNetwork, ref ObjectRef) error {
	switch ref.Kind {
	case KindNode:
		_, err := wn.GetNode(ref.Name)
		return err
	case KindLink:
		_, err := wn.GetLink(ref.Name)
		return err
	default:
		return fmt.Errorf("%w: unknown object kind %q", ErrBadControl, ref.Kind)
	}
}

// readAttribute reads a live attribute through a ref, translating
// not-found into a stale-reference error.
func readAttribute(wn *core.WaterNetwork, ref ObjectRef, attr core.Attribute) (float64, error) {
	var (
		v   float64
		err error
	)
	switch ref.Kind {
	case KindNode:
		v, err = wn.NodeAttribute(ref.Name, attr)
	case KindLink:
		v, err = wn.LinkAttribute(ref.Name, attr)
	default:
		return 0, fmt.Errorf("%w: unknown object kind %q", ErrBadControl, ref.Kind)
	}
	if err != nil {
		return 0, staleErr(err)
	}
	return v, nil
}

// writeAttribute writes a settable attribute through a ref, with the
// same stale-reference translation.
func writeAttribute(wn *core.WaterNetwork, ref ObjectRef, attr core.Attribute, value float64) error {
	var err error
	switch ref.Kind {
	case KindNode:
		err = wn.SetNodeAttribute(ref.Name, attr, value)
	case KindLink:
		err = wn.SetLinkAttribute(ref.Name, attr, value)
	default:
		return fmt.Errorf("%w: unknown object kind %q", ErrBadControl, ref.Kind)
	}
	if err != nil {
		return staleErr(err)
	}
	return nil
}
