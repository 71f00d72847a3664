package observation

// Builder assembles an Observation. A fresh builder describes a failed
// observation with an empty result until Success or Error is called.
type Builder struct {
	obs Observation
}

// NewBuilder returns a builder with ok=false, empty text and no assets.
func NewBuilder() *Builder {
	return &Builder{obs: Observation{
		Type:   Type,
		Result: Result{Assets: []Asset{}},
	}}
}

// SetRequestID sets the correlation id.
func (b *Builder) SetRequestID(id string) *Builder {
	b.obs.RequestID = id
	return b
}

// RequestID returns the correlation id set so far.
func (b *Builder) RequestID() string {
	return b.obs.RequestID
}

// Success marks the observation successful and clears any earlier error.
func (b *Builder) Success(text string) *Builder {
	b.obs.OK = true
	b.obs.Result.Text = text
	b.obs.Error = nil
	return b
}

// Error marks the observation failed with the given code and message.
func (b *Builder) Error(code, message string) *Builder {
	b.obs.OK = false
	b.obs.Error = &Error{Code: code, Message: message}
	return b
}

// SetText replaces the result text without changing the outcome.
func (b *Builder) SetText(text string) *Builder {
	b.obs.Result.Text = text
	return b
}

// AddAsset appends an asset to the result.
func (b *Builder) AddAsset(a Asset) *Builder {
	b.obs.Result.Assets = append(b.obs.Result.Assets, a)
	return b
}

// Build returns a copy of the observation. A builder that was never marked
// successful or failed reports an error so ok=false always carries one.
func (b *Builder) Build() Observation {
	out := b.obs.Clone()
	if !out.OK && out.Error == nil {
		out.Error = &Error{Code: CodeNotImplemented, Message: "tool produced no outcome"}
	}
	return out
}
