package rpc

import (
	"encoding/json"
	"sort"

	"github.com/morezero/messagecore/rpcerr"
)

// ArgumentInfo describes one introspectable operation argument.
type ArgumentInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
}

// OperationInfo describes one introspectable operation.
type OperationInfo struct {
	Name       string         `json:"name"`
	Arguments  []ArgumentInfo `json:"arguments"`
	ReturnType string         `json:"returnType,omitempty"`
	NoReply    bool           `json:"noReply"`
}

// PropertyInfo describes one introspectable property. Readable is always
// true (every bound property has a getter); Writeable is always false,
// since property writes are rejected by invokeProperty.
type PropertyInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Readable  bool   `json:"readable"`
	Writeable bool   `json:"writeable"`
}

// InterfaceInfo is the descriptor returned by GetInterfaceInfo: the
// operations and properties of one bound interface that opted into
// introspection.
type InterfaceInfo struct {
	Name       string          `json:"name"`
	Operations []OperationInfo `json:"operations"`
	Properties []PropertyInfo  `json:"properties"`
}

// buildInfo computes an InterfaceInfo from a binding's contract, keeping
// only members marked AllowIntrospection. Called once per binding via
// Binding.infoOnce.
func buildInfo(binding *Binding) InterfaceInfo {
	info := InterfaceInfo{Name: binding.InterfaceName}

	for _, op := range binding.Contract.Operations {
		if !op.AllowIntrospection {
			continue
		}
		args := make([]ArgumentInfo, 0, len(op.Arguments))
		for _, a := range op.Arguments {
			args = append(args, ArgumentInfo{Name: a.Name, Type: a.Type, Optional: a.Optional})
		}
		info.Operations = append(info.Operations, OperationInfo{
			Name:       op.Name,
			Arguments:  args,
			ReturnType: op.ReturnType,
			NoReply:    op.NoReply,
		})
	}
	for _, prop := range binding.Contract.Properties {
		if !prop.AllowIntrospection {
			continue
		}
		info.Properties = append(info.Properties, PropertyInfo{Name: prop.Name, Type: prop.Type, Readable: true, Writeable: false})
	}

	sort.Slice(info.Operations, func(i, j int) bool { return info.Operations[i].Name < info.Operations[j].Name })
	sort.Slice(info.Properties, func(i, j int) bool { return info.Properties[i].Name < info.Properties[j].Name })
	return info
}

func (binding *Binding) interfaceInfo() InterfaceInfo {
	binding.infoOnce.Do(func() {
		binding.info = buildInfo(binding)
	})
	return binding.info
}

// introspectionHandler is the handler object bound under
// IntrospectionInterfaceName; its methods read the owning behaviour's
// binding table directly.
type introspectionHandler struct {
	rb *RpcBehaviour
}

func (h *introspectionHandler) getInterfaces() []string {
	h.rb.mu.RLock()
	defer h.rb.mu.RUnlock()
	names := make([]string, 0, len(h.rb.bindings))
	for _, b := range h.rb.bindings {
		if b.AllowIntrospection {
			names = append(names, b.InterfaceName)
		}
	}
	sort.Strings(names)
	return names
}

func (h *introspectionHandler) hasInterface(name string) bool {
	b, ok := h.rb.lookup(name)
	return ok && b.AllowIntrospection
}

func (h *introspectionHandler) getInterfaceInfo(name string) (InterfaceInfo, error) {
	b, ok := h.rb.lookup(name)
	if !ok || !b.AllowIntrospection {
		return InterfaceInfo{}, rpcerr.New(rpcerr.CodeNotFound, "The interface or operation could not be found")
	}
	return b.interfaceInfo(), nil
}

// bindIntrospection registers the IInterfaceQuery001 contract that every
// RpcBehaviour exposes about its own bindings.
func (b *RpcBehaviour) bindIntrospection() {
	handler := &introspectionHandler{rb: b}

	contract := Contract{
		Operations: map[string]OperationDescriptor{
			"GetInterfaces": {
				Name:               "GetInterfaces",
				ReturnType:         "[]string",
				AllowIntrospection: true,
				Invoke: func(h interface{}, _ map[string]json.RawMessage) (interface{}, error) {
					return h.(*introspectionHandler).getInterfaces(), nil
				},
			},
			"HasInterface": {
				Name:               "HasInterface",
				ReturnType:         "bool",
				AllowIntrospection: true,
				Arguments:          []ArgSpec{{Name: "name", Type: "string"}},
				Invoke: func(h interface{}, args map[string]json.RawMessage) (interface{}, error) {
					var name string
					if err := json.Unmarshal(args["name"], &name); err != nil {
						return nil, rpcerr.New(rpcerr.CodeBadRequest, "The argument name must be a string")
					}
					return h.(*introspectionHandler).hasInterface(name), nil
				},
			},
			"GetInterfaceInfo": {
				Name:               "GetInterfaceInfo",
				ReturnType:         "InterfaceInfo",
				AllowIntrospection: true,
				Arguments:          []ArgSpec{{Name: "name", Type: "string"}},
				Invoke: func(h interface{}, args map[string]json.RawMessage) (interface{}, error) {
					var name string
					if err := json.Unmarshal(args["name"], &name); err != nil {
						return nil, rpcerr.New(rpcerr.CodeBadRequest, "The argument name must be a string")
					}
					return h.(*introspectionHandler).getInterfaceInfo(name)
				},
			},
		},
	}

	// Bind directly rather than through b.Bind: the introspection
	// contract is not subject to the duplicate-name guard and must
	// succeed unconditionally at construction time.
	b.bindings[asciiFold(IntrospectionInterfaceName)] = &Binding{
		InterfaceName:      IntrospectionInterfaceName,
		Contract:           contract,
		Handler:            handler,
		AllowIntrospection: true,
	}
}
