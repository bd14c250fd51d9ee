package core

// KVPair is one ordered additionalData entry of a policy input.
type KVPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PolicyInput is a single workspace policy constraint on the wire and in the
// database. Identity is namespace+name; the constraint's allowed values ride
// in AdditionalData.
type PolicyInput struct {
	Namespace      string   `json:"namespace"`
	Name           string   `json:"name"`
	AdditionalData []KVPair `json:"additional_data"`
}

// Values returns the data values recorded under key, in order.
func (p PolicyInput) Values(key string) []string {
	var out []string
	for _, kv := range p.AdditionalData {
		if kv.Key == key {
			out = append(out, kv.Value)
		}
	}
	return out
}

// ClonePolicies deep-copies a policy list so callers can mutate the copy
// without touching stored state.
func ClonePolicies(in []PolicyInput) []PolicyInput {
	if in == nil {
		return nil
	}
	out := make([]PolicyInput, len(in))
	for i, p := range in {
		out[i] = PolicyInput{Namespace: p.Namespace, Name: p.Name}
		if p.AdditionalData != nil {
			out[i].AdditionalData = make([]KVPair, len(p.AdditionalData))
			copy(out[i].AdditionalData, p.AdditionalData)
		}
	}
	return out
}
