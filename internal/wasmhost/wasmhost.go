// Package wasmhost is the Wasm Host Bridge (C7) and Host Syscall Adapters
// (C8): it compiles and instantiates a guest module with
// github.com/tetratelabs/wazero and binds the ten host functions from
// spec.md §6.2 into its "env" module. Grounded on
// original_source/src/wasm.rs's WasmRuntime/execute_module (which does the
// same thing against wasmi), translated to wazero's HostModuleBuilder idiom
// and to Go's explicit-error style in place of wasmi's Result<_, Trap>.
//
// Every adapter below follows the same seven-step shape: acquire the
// guest's exported memory, copy inputs out of guest memory, resolve the
// caller's capability bag, authorize via exactly one authz predicate,
// invoke the collaborator, write outputs back, and map the outcome to a
// numeric return code via internal/faults.Code. A malformed memory access
// (out-of-bounds read or write) panics with internal/faults.ErrGuestMemoryFault,
// which wazero turns into a trap that ends the guest's execution, while
// every authorization or collaborator-level failure is looked up against
// the faults taxonomy and returned as a numeric code the guest can branch
// on, per spec §4.11.
package wasmhost

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"microvisor/internal/agent"
	"microvisor/internal/authz"
	"microvisor/internal/capstore"
	"microvisor/internal/clock"
	"microvisor/internal/escalation"
	"microvisor/internal/faults"
	"microvisor/internal/ipc"
	"microvisor/internal/netstack"
	"microvisor/internal/vfs"
)

// Host wires the seven collaborators a guest syscall may touch into a
// wazero runtime. One Host serves every agent; agent_pid is threaded
// through each call rather than baked into a per-agent Host, since the
// kernel's launch loop runs agents sequentially (spec §5).
type Host struct {
	Caps     *capstore.Store
	Agents   *agent.Registry
	Bus      *ipc.Bus
	Vfs      *vfs.Vfs
	Net      *netstack.Stack
	Clock    clock.Clock
	Escalate *escalation.Protocol
	Log      *slog.Logger

	runtime wazero.Runtime
}

func New(caps *capstore.Store, agents *agent.Registry, bus *ipc.Bus, vf *vfs.Vfs,
	net *netstack.Stack, clk clock.Clock, esc *escalation.Protocol, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{Caps: caps, Agents: agents, Bus: bus, Vfs: vf, Net: net, Clock: clk, Escalate: esc, Log: log}
}

// callerState tracks which agent each Wasm instance belongs to, set once
// at RunModule time and read back by every host function closure.
type callerState struct {
	agentPID int64
}

// RunModule compiles wasmBytes, binds the host module, instantiates it
// under the given agent's identity, and invokes _start (or main as a
// fallback) to completion.
func (h *Host) RunModule(ctx context.Context, wasmBytes []byte, agentID agent.Id) error {
	if h.runtime == nil {
		h.runtime = wazero.NewRuntime(ctx)
	}
	state := &callerState{agentPID: int64(agentID)}

	builder := h.runtime.NewHostModuleBuilder("env")
	h.bindDebugLog(builder, state)
	h.bindSendIPC(builder, state)
	h.bindTCPRequest(builder, state)
	h.bindResolveDNS(builder, state)
	h.bindFileRead(builder, state)
	h.bindFileWrite(builder, state)
	h.bindFileList(builder, state)
	h.bindGetTime(builder, state)
	h.bindGetUptimeMs(builder, state)
	h.bindRequestCapability(builder, state)

	envMod, err := builder.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("wasmhost: failed to instantiate env host module: %w: %v", faults.ErrCollaboratorFailure, err)
	}
	// Each RunModule call rebinds "env" against this call's agent identity,
	// so the previous instance (if any) must be torn down first or wazero
	// refuses the duplicate module name.
	defer envMod.Close(ctx)

	mod, err := h.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("wasmhost: failed to compile/instantiate guest module: %w: %v", faults.ErrCollaboratorFailure, err)
	}
	defer mod.Close(ctx)

	start := mod.ExportedFunction("_start")
	if start == nil {
		start = mod.ExportedFunction("main")
	}
	if start == nil {
		return fmt.Errorf("wasmhost: guest module has no _start or main export: %w", faults.ErrCollaboratorFailure)
	}
	if _, err := start.Call(ctx); err != nil {
		return fmt.Errorf("wasmhost: guest execution failed: %w: %v", faults.ErrCollaboratorFailure, err)
	}
	return nil
}

// Close releases the underlying wazero runtime.
func (h *Host) Close(ctx context.Context) error {
	if h.runtime == nil {
		return nil
	}
	return h.runtime.Close(ctx)
}

// mapIPCFault translates the ipc package's own sentinels onto the shared
// taxonomy so send_ipc's return code follows the same rules as every
// other adapter: an absent endpoint is ErrResourceAbsent, a full queue is
// ErrResourceExhausted, anything else is a generic collaborator failure.
func mapIPCFault(err error) error {
	switch {
	case errors.Is(err, ipc.ErrNoEndpoint):
		return faults.ErrResourceAbsent
	case errors.Is(err, ipc.ErrQueueFull):
		return faults.ErrResourceExhausted
	default:
		return faults.ErrCollaboratorFailure
	}
}

func (h *Host) bag(pid int64) authz.Bag {
	caps := h.Agents.Capabilities(agent.Id(pid))
	bag := make(authz.Bag, len(caps))
	copy(bag, caps)
	return bag
}

// guestMemory, readBytes, and writeBytes all return faults.ErrGuestMemoryFault
// on failure — every call site panics with that error rather than
// returning it, since a malformed pointer always traps the guest (spec
// §4.11), never surfaces as a numeric code.

func guestMemory(mod api.Module) (api.Memory, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("wasmhost: guest module exports no memory: %w", faults.ErrGuestMemoryFault)
	}
	return mem, nil
}

func readBytes(mem api.Memory, ptr, length uint32) ([]byte, error) {
	buf, ok := mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("wasmhost: guest memory read out of bounds at %#x len %d: %w", ptr, length, faults.ErrGuestMemoryFault)
	}
	return append([]byte(nil), buf...), nil
}

func writeBytes(mem api.Memory, ptr uint32, data []byte) error {
	if !mem.Write(ptr, data) {
		return fmt.Errorf("wasmhost: guest memory write out of bounds at %#x len %d: %w", ptr, len(data), faults.ErrGuestMemoryFault)
	}
	return nil
}

func writeUint32(mem api.Memory, ptr uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return writeBytes(mem, ptr, b[:])
}

// decodeUTF8 validates buf as UTF-8, returning faults.ErrEncodingFault if
// it is not. Every adapter that treats guest bytes as a path or hostname
// traps on invalid encoding rather than passing it on; debug_log is the
// one exception, since it is diagnostic-only and logs the guest's bytes
// as they are (see bindDebugLog).
func decodeUTF8(buf []byte) (string, error) {
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("wasmhost: guest string is not valid UTF-8: %w", faults.ErrEncodingFault)
	}
	return string(buf), nil
}

// --- env.debug_log(ptr, len) ---

func (h *Host) bindDebugLog(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err) // malformed module: no memory export is a trap, not a denial
		}
		buf, err := readBytes(mem, ptr, length)
		if err != nil {
			panic(err)
		}
		h.Log.Info("guest debug_log", "agent", state.agentPID, "message", string(buf))
	}).Export("debug_log")
}

// --- env.send_ipc(target_pid, ptr, len) -> u32 ---

func (h *Host) bindSendIPC(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, targetPID uint64, ptr, length uint32) uint32 {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err)
		}
		buf, err := readBytes(mem, ptr, length)
		if err != nil {
			panic(err)
		}

		bag := h.bag(state.agentPID)
		if !authz.CanSendTo(bag, h.Caps, int64(targetPID)) {
			h.Log.Warn("denied send_ipc", "agent", state.agentPID, "target", targetPID)
			return faults.Code(faults.ErrAuthorizationDenied)
		}

		if err := h.Bus.Send(h.Caps, state.agentPID, int64(targetPID), buf, nil); err != nil {
			return faults.Code(mapIPCFault(err))
		}
		return faults.CodeSuccess
	}).Export("send_ipc")
}

// --- env.tcp_request(ip_ptr, port, payload_ptr, len) -> u32 ---

func (h *Host) bindTCPRequest(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ipPtr, port, ptr, length uint32) uint32 {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err)
		}
		ipBuf, err := readBytes(mem, ipPtr, 4)
		if err != nil {
			panic(err)
		}
		if _, err := readBytes(mem, ptr, length); err != nil {
			panic(err)
		}

		bag := h.bag(state.agentPID)
		if !authz.CanAccessNetwork(bag, h.Caps) {
			h.Log.Warn("denied tcp_request", "agent", state.agentPID)
			return faults.Code(faults.ErrAuthorizationDenied)
		}

		host := fmt.Sprintf("%d.%d.%d.%d", ipBuf[0], ipBuf[1], ipBuf[2], ipBuf[3])
		if err := h.Net.ConnectTCP(ctx, host, uint16(port)); err != nil {
			h.Log.Info("tcp_request failed", "agent", state.agentPID, "host", host, "port", port, "err", err)
			return faults.Code(faults.ErrCollaboratorFailure)
		}
		return faults.CodeSuccess
	}).Export("tcp_request")
}

// --- env.resolve_dns(name_ptr, name_len, out_ip_ptr) -> u32 ---

func (h *Host) bindResolveDNS(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, outIPPtr uint32) uint32 {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err)
		}
		nameBuf, err := readBytes(mem, namePtr, nameLen)
		if err != nil {
			panic(err)
		}
		name, err := decodeUTF8(nameBuf)
		if err != nil {
			panic(err)
		}

		bag := h.bag(state.agentPID)
		if !authz.CanAccessNetwork(bag, h.Caps) {
			h.Log.Warn("denied resolve_dns", "agent", state.agentPID)
			return faults.Code(faults.ErrAuthorizationDenied)
		}

		ip, err := h.Net.ResolveDNS(name)
		if err != nil {
			h.Log.Info("resolve_dns failed", "agent", state.agentPID, "name", name, "err", err)
			return faults.Code(faults.ErrResourceAbsent)
		}
		if err := writeBytes(mem, outIPPtr, ip[:]); err != nil {
			panic(err)
		}
		return faults.CodeSuccess
	}).Export("resolve_dns")
}

// --- env.file_read(path_ptr, path_len, out_ptr, out_len_ptr) -> u32 ---

func (h *Host) bindFileRead(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, pathPtr, pathLen, outPtr, outLenPtr uint32) uint32 {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err)
		}
		pathBuf, err := readBytes(mem, pathPtr, pathLen)
		if err != nil {
			panic(err)
		}
		path, err := decodeUTF8(pathBuf)
		if err != nil {
			panic(err)
		}

		bag := h.bag(state.agentPID)
		if !authz.CanReadFile(bag, h.Caps, path) {
			h.Log.Warn("denied file_read", "agent", state.agentPID, "path", path)
			return faults.Code(faults.ErrAuthorizationDenied)
		}

		data, ok := h.Vfs.Open(path)
		if !ok {
			return faults.Code(faults.ErrResourceAbsent)
		}
		if err := writeBytes(mem, outPtr, data); err != nil {
			panic(err)
		}
		if err := writeUint32(mem, outLenPtr, uint32(len(data))); err != nil {
			panic(err)
		}
		return faults.CodeSuccess
	}).Export("file_read")
}

// --- env.file_write(path_ptr, path_len, data_ptr, data_len) -> u32 ---

func (h *Host) bindFileWrite(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, pathPtr, pathLen, dataPtr, dataLen uint32) uint32 {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err)
		}
		pathBuf, err := readBytes(mem, pathPtr, pathLen)
		if err != nil {
			panic(err)
		}
		path, err := decodeUTF8(pathBuf)
		if err != nil {
			panic(err)
		}

		bag := h.bag(state.agentPID)
		if !authz.CanWriteFile(bag, h.Caps, path) {
			h.Log.Warn("denied file_write", "agent", state.agentPID, "path", path)
			return faults.Code(faults.ErrAuthorizationDenied)
		}

		dataBuf, err := readBytes(mem, dataPtr, dataLen)
		if err != nil {
			panic(err)
		}

		if !h.Vfs.Write(path, dataBuf, state.agentPID) {
			return faults.Code(faults.ErrCollaboratorFailure) // e.g. read-only system file
		}
		return faults.CodeSuccess
	}).Export("file_write")
}

// --- env.file_list(prefix_ptr, prefix_len, out_ptr, out_len_ptr) -> u32 ---

func (h *Host) bindFileList(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, prefixPtr, prefixLen, outPtr, outLenPtr uint32) uint32 {
		mem, err := guestMemory(mod)
		if err != nil {
			panic(err)
		}
		prefixBuf, err := readBytes(mem, prefixPtr, prefixLen)
		if err != nil {
			panic(err)
		}
		prefix, err := decodeUTF8(prefixBuf)
		if err != nil {
			panic(err)
		}

		bag := h.bag(state.agentPID)
		if !authz.CanReadFile(bag, h.Caps, prefix) {
			h.Log.Warn("denied file_list", "agent", state.agentPID, "prefix", prefix)
			return faults.Code(faults.ErrAuthorizationDenied)
		}

		names := h.Vfs.ListPrefix(prefix)
		listing := []byte(joinNewline(names))
		if err := writeBytes(mem, outPtr, listing); err != nil {
			panic(err)
		}
		if err := writeUint32(mem, outLenPtr, uint32(len(listing))); err != nil {
			panic(err)
		}
		return faults.CodeSuccess
	}).Export("file_list")
}

func joinNewline(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "\n"
		}
		out += n
	}
	return out
}

// --- env.get_time() -> u64 ---

func (h *Host) bindGetTime(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint64 {
		return uint64(h.Clock.UnixSeconds())
	}).Export("get_time")
}

// --- env.get_uptime_ms() -> u64 ---

func (h *Host) bindGetUptimeMs(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint64 {
		return uint64(h.Clock.UptimeMillis())
	}).Export("get_uptime_ms")
}

// --- env.request_capability(cap_type, detail_ptr, detail_len) -> u32 ---

func (h *Host) bindRequestCapability(b wazero.HostModuleBuilder, state *callerState) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, capType, detailPtr, detailLen uint32) uint32 {
		detail := ""
		if detailLen > 0 {
			mem, err := guestMemory(mod)
			if err != nil {
				panic(err)
			}
			buf, err := readBytes(mem, detailPtr, detailLen)
			if err != nil {
				panic(err)
			}
			detail, err = decodeUTF8(buf)
			if err != nil {
				panic(err)
			}
		}

		_, err := h.Escalate.RequestCapability(agent.Id(state.agentPID), escalation.Kind(capType), detail)
		if err != nil {
			h.Log.Info("request_capability refused", "agent", state.agentPID, "cap_type", capType, "err", err)
			return faults.Code(err) // a refusal carries no sentinel, so it maps to 1
		}
		return faults.CodeSuccess
	}).Export("request_capability")
}
