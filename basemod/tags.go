package basemod

import "github.com/grailbio/hts/sam"

// IntArrayTag returns the values of a numeric-array auxiliary tag (keys
// such as "ns", "nl", "as", "al") widened to int64. A missing tag, or one
// whose value is not an integer array, yields an empty slice.
func IntArrayTag(r *sam.Record, tag sam.Tag) []int64 {
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return nil
	}
	switch v := aux.Value().(type) {
	case []int8:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out
	case []uint8:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out
	case []int16:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out
	case []uint16:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out
	case []int32:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out
	case []uint32:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out
	}
	return nil
}
