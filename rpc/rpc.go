// Package rpc implements RpcBehaviour: a reflective-dispatch-turned-
// explicit-registry RPC server. Interfaces are bound as a Contract (a
// table of operation/property descriptors built by hand or by generated
// adapter code, replacing runtime type introspection); RpcBehaviour
// parses versioned request envelopes, routes to the bound contract, and
// publishes a structured reply.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/morezero/messagecore/envelope"
	"github.com/morezero/messagecore/header"
	"github.com/morezero/messagecore/rpcerr"
	"github.com/morezero/messagecore/serializer"
)

const logPrefix = "rpc:RpcBehaviour"

// IntrospectionInterfaceName is the well-known name of the introspection
// contract every RpcBehaviour auto-binds.
const IntrospectionInterfaceName = "IInterfaceQuery001"

// Errors thrown to the caller (the service receive loop) rather than
// turned into a structured response.
var (
	ErrInvalidRequest = errors.New("rpc: invalid request")
	ErrNotImplemented = errors.New("rpc: not implemented")
)

// RpcRequest is the wire form of an RPC request body.
type RpcRequest struct {
	Interface string                     `json:"interface"`
	Operation string                     `json:"operation"`
	Arguments map[string]json.RawMessage `json:"arguments,omitempty"`
}

// RpcResponse is the wire form of an RPC reply body: either a successful
// value or a structured error.
type RpcResponse struct {
	OK           bool        `json:"ok"`
	Value        interface{} `json:"value,omitempty"`
	ErrorCode    string      `json:"errorCode,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// okResponse builds a successful RpcResponse.
func okResponse(v interface{}) *RpcResponse {
	return &RpcResponse{OK: true, Value: v}
}

// errResponse builds a failed RpcResponse with one of the fixed codes in
// rpcerr, or a handler-defined code.
func errResponse(code, message string) *RpcResponse {
	return &RpcResponse{OK: false, ErrorCode: code, ErrorMessage: message}
}

// ArgSpec describes one declared operation parameter.
type ArgSpec struct {
	Name     string
	Type     string
	Optional bool
	Default  json.RawMessage
}

// OperationDescriptor is the explicit-registry replacement for a
// reflective method: a name, its declared parameters, and an invoker
// that dispatches to the bound handler object.
type OperationDescriptor struct {
	Name               string
	Arguments          []ArgSpec
	ReturnType         string // "" means the operation returns no value
	NoReply            bool
	AllowIntrospection bool
	Invoke             func(handler interface{}, args map[string]json.RawMessage) (interface{}, error)
}

// PropertyDescriptor is the explicit-registry replacement for a
// reflective property getter. Property writes are not supported by this
// core.
type PropertyDescriptor struct {
	Name               string
	Type               string
	AllowIntrospection bool
	Get                func(handler interface{}) (interface{}, error)
}

// Contract is the table of operations and properties bound to an
// interface name.
type Contract struct {
	Operations map[string]OperationDescriptor
	Properties map[string]PropertyDescriptor
}

// Binding associates an interface contract with a handler object.
type Binding struct {
	InterfaceName      string
	Contract           Contract
	Handler            interface{}
	AllowIntrospection bool

	infoOnce sync.Once
	info     InterfaceInfo
}

// ErrDuplicateInterface is returned by Bind when the interface name is
// already registered (case-insensitively) on this behaviour.
var ErrDuplicateInterface = errors.New("rpc: interface already bound")

// RpcBehaviour is a stateful dispatcher from (interface, operation) names
// to bound handler objects, with built-in introspection.
type RpcBehaviour struct {
	mu       sync.RWMutex
	bindings map[string]*Binding // asciiFold(InterfaceName) -> Binding
	registry *serializer.Registry

	// OnException, if set, observes every non-OK RpcResponse this
	// behaviour produces — pure operational observability (see package
	// storage's Sink), never consulted by dispatch itself.
	OnException func(ctx context.Context, interfaceName, operation, code, message string)
}

// NewRpcBehaviour creates an RpcBehaviour that looks up RPC serializers in
// registry and auto-binds the introspection contract.
func NewRpcBehaviour(registry *serializer.Registry) *RpcBehaviour {
	b := &RpcBehaviour{
		bindings: make(map[string]*Binding),
		registry: registry,
	}
	b.bindIntrospection()
	return b
}

// Bind registers a contract under name for handler. Interface names are
// unique case-insensitively (ASCII fold, not locale-sensitive).
func (b *RpcBehaviour) Bind(name string, contract Contract, handler interface{}, allowIntrospection bool) error {
	key := asciiFold(name)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.bindings[key]; exists {
		return fmt.Errorf("%s - %w: %s", logPrefix, ErrDuplicateInterface, name)
	}
	b.bindings[key] = &Binding{
		InterfaceName:      name,
		Contract:           contract,
		Handler:            handler,
		AllowIntrospection: allowIntrospection,
	}
	return nil
}

// BindSpec is one entry for BindMany.
type BindSpec struct {
	Name               string
	Contract           Contract
	Handler            interface{}
	AllowIntrospection bool
}

// BindMany binds every spec, stopping at the first failure.
func (b *RpcBehaviour) BindMany(specs ...BindSpec) error {
	for _, s := range specs {
		if err := b.Bind(s.Name, s.Contract, s.Handler, s.AllowIntrospection); err != nil {
			return err
		}
	}
	return nil
}

func (b *RpcBehaviour) lookup(name string) (*Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.bindings[asciiFold(name)]
	return binding, ok
}

// asciiFold lowercases ASCII letters only, avoiding Unicode-locale case
// folding surprises for interface name comparisons.
func asciiFold(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Handle implements service.Behaviour: it parses env and
// publishes a reply unless the resolved operation is NoReply. Failures
// that precede any possible response (empty id, bad/missing header,
// unknown version, batched RPC, unknown serializer), and a failure to
// marshal or publish the reply, are returned as errors — these propagate
// to the service loop's UnhandledException, never to the caller as a
// response.
func (b *RpcBehaviour) Handle(ctx context.Context, env envelope.Envelope) error {
	if !env.IsRequest() {
		return fmt.Errorf("%s - %w: no reply identifier", logPrefix, ErrInvalidRequest)
	}

	raw, ok := env.Headers[header.KeyRPC]
	if !ok {
		return fmt.Errorf("%s - %w: missing %s header", logPrefix, ErrInvalidRequest, header.KeyRPC)
	}

	h, err := header.ParseRPC(raw)
	if err != nil {
		if errors.Is(err, header.ErrUnsupportedVersion) {
			return err
		}
		return fmt.Errorf("%s - %w: %v", logPrefix, ErrInvalidRequest, err)
	}

	if h.Type != header.Single {
		return fmt.Errorf("%s - %w: batched RPC is not supported", logPrefix, ErrNotImplemented)
	}

	codec, ok := b.registry.Lookup(h.Serializer)
	if !ok {
		return serializer.ErrUnsupportedSerializer(h.Serializer)
	}

	resp, noReply, interfaceName, operation := b.dispatchRequest(codec, env.Body)
	if !resp.OK && b.OnException != nil {
		b.OnException(ctx, interfaceName, operation, resp.ErrorCode, resp.ErrorMessage)
	}
	if noReply {
		return nil
	}

	body, err := codec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("%s - marshal response: %w", logPrefix, err)
	}

	replyHeaders := map[string][]byte{header.KeyRPC: header.FormatRPC(h.Serializer, header.Single)}
	return env.Node.Reply(ctx, env.ReplyTo, env.ID, replyHeaders, body)
}

// dispatchRequest decodes the request, resolves the bound operation, and
// invoke. It always returns a response (never an error) because, past
// header validation, every remaining failure is attributable to a
// specific request.
func (b *RpcBehaviour) dispatchRequest(codec serializer.Codec, body []byte) (resp *RpcResponse, noReply bool, interfaceName, operation string) {
	var req RpcRequest
	if err := codec.Unmarshal(body, &req); err != nil {
		return errResponse(rpcerr.CodeBadRequest, fmt.Sprintf("The request format is invalid: %v", err)), false, req.Interface, req.Operation
	}
	interfaceName, operation = req.Interface, req.Operation

	binding, ok := b.lookup(req.Interface)
	if !ok {
		return errResponse(rpcerr.CodeNotFound, "The interface or operation could not be found"), false, interfaceName, operation
	}

	if op, ok := binding.Contract.Operations[req.Operation]; ok {
		resp, noReply = b.invokeOperation(binding, op, req.Arguments)
		return resp, noReply, interfaceName, operation
	}
	if prop, ok := binding.Contract.Properties[req.Operation]; ok {
		resp, noReply = b.invokeProperty(binding, prop, req.Arguments)
		return resp, noReply, interfaceName, operation
	}
	return errResponse(rpcerr.CodeNotFound, "The interface or operation could not be found"), false, interfaceName, operation
}

func (b *RpcBehaviour) invokeOperation(binding *Binding, op OperationDescriptor, args map[string]json.RawMessage) (*RpcResponse, bool) {
	filled := make(map[string]json.RawMessage, len(args))
	for k, v := range args {
		filled[k] = v
	}
	for _, spec := range op.Arguments {
		if _, present := filled[spec.Name]; present {
			continue
		}
		if !spec.Optional {
			return errResponse(rpcerr.CodeBadRequest, fmt.Sprintf("The argument %s is not optional", spec.Name)), op.NoReply
		}
		if spec.Default != nil {
			filled[spec.Name] = spec.Default
		}
	}

	value, err := invokeSafely(func() (interface{}, error) {
		return op.Invoke(binding.Handler, filled)
	})
	if err != nil {
		return classifyError(err), op.NoReply
	}
	if op.ReturnType == "" {
		return okResponse(nil), op.NoReply
	}
	return okResponse(value), op.NoReply
}

func (b *RpcBehaviour) invokeProperty(binding *Binding, prop PropertyDescriptor, args map[string]json.RawMessage) (*RpcResponse, bool) {
	if _, isWrite := args["Property"]; isWrite {
		return errResponse(rpcerr.CodeNotImplemented, "Property write is not supported"), false
	}
	value, err := invokeSafely(func() (interface{}, error) {
		return prop.Get(binding.Handler)
	})
	if err != nil {
		return classifyError(err), false
	}
	return okResponse(value), false
}

// invokeSafely runs fn, converting any panic into an error so it joins
// the normal error-classification path — the exception path stays local
// to this dispatcher and never reaches the service receive loop.
func invokeSafely(fn func() (interface{}, error)) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn()
}

// classifyError turns a handler error into a structured response: a
// thrown *rpcerr.Exception keeps its code/message, anything else becomes
// the generic "Exception" code.
func classifyError(err error) *RpcResponse {
	var exc *rpcerr.Exception
	if errors.As(err, &exc) {
		return errResponse(exc.Code, exc.Message)
	}
	return errResponse(rpcerr.CodeException, err.Error())
}
