package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// Request is the uniform input to every processor. InputPaths are the
// staged uploads in submit order; OutDir is a per-job scratch
// directory the processor writes its artifacts into.
type Request struct {
	JobID      string
	InputPaths []string
	InputName  string
	OutDir     string
	Params     types.JobParams
}

// Result is the uniform output of every processor. Artifacts lists the
// produced files in output order; comparison-style operations return
// no artifacts and only metadata.
type Result struct {
	Artifacts []string
	Meta      types.JobResult
}

// Processor implements one job kind. Implementations must honor
// ctx cancellation: in-process operations check it between steps,
// subprocess operations terminate the child when it fires.
type Processor interface {
	Kind() types.JobKind
	Process(ctx context.Context, req *Request) (*Result, error)
}

// Capability is the static descriptor served by the /info endpoints
type Capability struct {
	Kind            types.JobKind     `json:"kind"`
	Description     string            `json:"description"`
	AcceptedFormats []string          `json:"accepted_formats"`
	MinInputs       int               `json:"min_inputs"`
	MaxInputs       int               `json:"max_inputs"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Notes           string            `json:"notes,omitempty"`
}

// Registry maps job kinds to their processors
type Registry struct {
	mu           sync.RWMutex
	processors   map[types.JobKind]Processor
	capabilities map[types.JobKind]Capability
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		processors:   make(map[types.JobKind]Processor),
		capabilities: make(map[types.JobKind]Capability),
	}
}

// Register adds a processor and its capability descriptor. Registering
// the same kind twice is a programming error and panics at startup.
func (r *Registry) Register(p Processor, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := p.Kind()
	if _, exists := r.processors[kind]; exists {
		panic(fmt.Sprintf("processor already registered for kind %s", kind))
	}
	r.processors[kind] = p
	r.capabilities[kind] = cap
}

// Get returns the processor for a kind
func (r *Registry) Get(kind types.JobKind) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[kind]
	return p, ok
}

// Capability returns the descriptor for a kind
func (r *Registry) Capability(kind types.JobKind) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[kind]
	return c, ok
}

// Kinds returns every registered kind
func (r *Registry) Kinds() []types.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.JobKind, 0, len(r.processors))
	for k := range r.processors {
		kinds = append(kinds, k)
	}
	return kinds
}

// ToolPaths locates the external converter binaries
type ToolPaths struct {
	Soffice     string
	Wkhtmltopdf string
	Ocrmypdf    string
	Pdftoppm    string
}

// NewDefaultRegistry registers every supported operation
func NewDefaultRegistry(tools ToolPaths) *Registry {
	r := NewRegistry()
	registerPDFOps(r)
	registerConverters(r, tools)
	return r
}
