package registry

import (
	"context"
	"fmt"
)

// FakeImage is the in-memory placeholder "image" value used by the img
// namespace stub (SPEC_FULL.md §D.4): the real image-processing catalog is
// out of scope (spec.md §1), but the engine still needs a concrete
// Identifiable value to exercise content-addressed memoization end to end
// for scenario 3 of spec.md §8.
type FakeImage struct {
	Source    string
	Threshold float64
	Applied   bool
}

// CanonicalValue implements identity.Identifiable.
func (f FakeImage) CanonicalValue() (any, error) {
	return map[string]any{
		"source":    f.Source,
		"threshold": f.Threshold,
		"applied":   f.Applied,
	}, nil
}

// asFakeImage coerces v into a FakeImage. v is a FakeImage when it comes
// straight from a sibling primitive's return value within the same run, but
// a rehydrated dependency served from the store arrives as the
// map[string]any produced by decoding CanonicalValue's JSON (store.go
// round-trips every value through encoding/json; see store.Get). The img
// namespace owns both CanonicalValue and this decoder, so it must accept
// both shapes.
func asFakeImage(v any) (FakeImage, bool) {
	switch t := v.(type) {
	case FakeImage:
		return t, true
	case map[string]any:
		source, _ := t["source"].(string)
		threshold, _ := t["threshold"].(float64)
		applied, _ := t["applied"].(bool)
		return FakeImage{Source: source, Threshold: threshold, Applied: applied}, true
	default:
		return FakeImage{}, false
	}
}

// NewImgNamespace builds the `img` namespace stub: read() and threshold(),
// operating on FakeImage values rather than real NIfTI data.
func NewImgNamespace() *StaticNamespace {
	ops := map[string]Primitive{
		"read": func(ctx context.Context, args map[string]any) (any, error) {
			path, ok := args["0"].(string)
			if !ok {
				return nil, &ArgumentError{Operator: "img.read", Reason: "argument \"0\" must be a path string"}
			}
			return FakeImage{Source: path}, nil
		},
		"threshold": func(ctx context.Context, args map[string]any) (any, error) {
			img, ok := asFakeImage(args["0"])
			if !ok {
				return nil, &ArgumentError{Operator: "img.threshold", Reason: "argument \"0\" must be an image"}
			}
			level, err := argFloat(args, "1")
			if err != nil {
				return nil, &ArgumentError{Operator: "img.threshold", Reason: err.Error()}
			}
			img.Threshold = level
			img.Applied = true
			return img, nil
		},
	}
	docs := map[string]string{
		"read":      "read(path) -> image (stub: records the source path only)",
		"threshold": "threshold(image, level) -> image (stub: records the threshold only)",
	}
	return NewStaticNamespace("img", ops, docs)
}

// NiftiSerializer writes a deterministic placeholder header for a FakeImage,
// standing in for the real `.nii.gz` serializer (SPEC_FULL.md §D.4).
func NiftiSerializer(v any) ([]byte, error) {
	img, ok := asFakeImage(v)
	if !ok {
		return nil, fmt.Errorf("nifti serializer: expected registry.FakeImage, got %T", v)
	}
	return []byte(fmt.Sprintf("NIFTI-STUB\nsource=%s\nthreshold=%g\napplied=%t\n", img.Source, img.Threshold, img.Applied)), nil
}
