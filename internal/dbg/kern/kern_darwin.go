//go:build darwin && arm64

package kern

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <mach/thread_act.h>
#include <mach/thread_status.h>
#include <sys/ptrace.h>
#include <sys/types.h>

// Request and reply layouts for mach_exception_raise (msgh_id 2405), the
// MACH_EXCEPTION_CODES variant carrying 64-bit codes.
typedef struct {
	mach_msg_header_t Head;
	mach_msg_body_t msgh_body;
	mach_msg_port_descriptor_t thread;
	mach_msg_port_descriptor_t task;
	NDR_record_t NDR;
	exception_type_t exception;
	mach_msg_type_number_t codeCnt;
	int64_t code[2];
	mach_msg_trailer_t trailer;
} mach_exc_request_t;

typedef struct {
	mach_msg_header_t Head;
	NDR_record_t NDR;
	kern_return_t RetCode;
} mach_exc_reply_t;

static kern_return_t
recv_exception(mach_port_t port, int timeout_ms, mach_exc_request_t *req) {
	mach_msg_option_t opts = MACH_RCV_MSG | MACH_RCV_INTERRUPT;
	mach_msg_timeout_t to = MACH_MSG_TIMEOUT_NONE;
	if (timeout_ms > 0) {
		opts |= MACH_RCV_TIMEOUT;
		to = timeout_ms;
	}
	return mach_msg(&req->Head, opts, 0, sizeof(*req), port, to, MACH_PORT_NULL);
}

static kern_return_t
reply_exception(mach_exc_request_t *req, kern_return_t code) {
	mach_exc_reply_t reply;
	reply.Head.msgh_bits = MACH_MSGH_BITS(MACH_MSGH_BITS_REMOTE(req->Head.msgh_bits), 0);
	reply.Head.msgh_size = sizeof(reply);
	reply.Head.msgh_remote_port = req->Head.msgh_remote_port;
	reply.Head.msgh_local_port = MACH_PORT_NULL;
	reply.Head.msgh_id = req->Head.msgh_id + 100;
	reply.NDR = NDR_record;
	reply.RetCode = code;
	return mach_msg(&reply.Head, MACH_SEND_MSG, sizeof(reply), 0,
		MACH_PORT_NULL, MACH_MSG_TIMEOUT_NONE, MACH_PORT_NULL);
}

static kern_return_t
get_thread_regs(thread_act_t th, arm_thread_state64_t *state) {
	mach_msg_type_number_t count = ARM_THREAD_STATE64_COUNT;
	kern_return_t kret = thread_get_state(th, ARM_THREAD_STATE64,
		(thread_state_t)state, &count);
	if (kret == KERN_SUCCESS && count != ARM_THREAD_STATE64_COUNT) {
		return KERN_INVALID_VALUE;
	}
	return kret;
}

static kern_return_t
set_thread_regs(thread_act_t th, arm_thread_state64_t *state) {
	return thread_set_state(th, ARM_THREAD_STATE64,
		(thread_state_t)state, ARM_THREAD_STATE64_COUNT);
}

// Arms or disarms the MDSCR_EL1 software-step bit.
static kern_return_t
set_single_step(thread_act_t th, int enable) {
	arm_debug_state64_t dbg;
	mach_msg_type_number_t count = ARM_DEBUG_STATE64_COUNT;
	kern_return_t kret = thread_get_state(th, ARM_DEBUG_STATE64,
		(thread_state_t)&dbg, &count);
	if (kret != KERN_SUCCESS) {
		return kret;
	}
	if (enable) {
		dbg.__mdscr_el1 |= 1;
	} else {
		dbg.__mdscr_el1 &= ~(uint64_t)1;
	}
	return thread_set_state(th, ARM_DEBUG_STATE64,
		(thread_state_t)&dbg, ARM_DEBUG_STATE64_COUNT);
}

static kern_return_t
suspend_count(thread_act_t th, int *count) {
	thread_basic_info_data_t info;
	mach_msg_type_number_t n = THREAD_BASIC_INFO_COUNT;
	kern_return_t kret = thread_info(th, THREAD_BASIC_INFO,
		(thread_info_t)&info, &n);
	if (kret == KERN_SUCCESS) {
		*count = info.suspend_count;
	}
	return kret;
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Exception classes the debugger intercepts: faults, traps and
// breakpoints.
const excMask = C.EXC_MASK_BAD_ACCESS | C.EXC_MASK_BAD_INSTRUCTION |
	C.EXC_MASK_ARITHMETIC | C.EXC_MASK_SOFTWARE | C.EXC_MASK_BREAKPOINT |
	C.EXC_MASK_SYSCALL

type machKernel struct{}

// Native returns the kernel trap surface of the running host.
func Native() (Kernel, error) {
	return machKernel{}, nil
}

func machError(op string, kret C.kern_return_t) error {
	return fmt.Errorf("%s: %s (%d)", op, C.GoString(C.mach_error_string(kret)), int(kret))
}

func (machKernel) TaskForPid(pid int) (TaskID, error) {
	if err := unix.Kill(pid, 0); err == unix.ESRCH {
		return 0, ErrProcessNotFound
	}
	var task C.task_t
	if kret := C.task_for_pid(C.mach_task_self_, C.int(pid), &task); kret != C.KERN_SUCCESS {
		// task_for_pid reports a hard KERN_FAILURE when the target's
		// code signature refuses to be debugged.
		if kret == C.KERN_FAILURE {
			return 0, ErrTargetNotDebuggable
		}
		return 0, machError("task_for_pid", kret)
	}
	return TaskID(task), nil
}

func (machKernel) DeallocateTask(task TaskID) error {
	if kret := C.mach_port_deallocate(C.mach_task_self_, C.mach_port_name_t(task)); kret != C.KERN_SUCCESS {
		return machError("mach_port_deallocate", kret)
	}
	return nil
}

func (machKernel) PtraceAttach(pid int) error {
	ret, err := C.ptrace(C.PT_ATTACHEXC, C.pid_t(pid), nil, 0)
	if ret != 0 {
		return err
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, unix.WUNTRACED, nil); err != nil {
		return err
	}
	return nil
}

func (machKernel) PtraceDetach(pid int) error {
	ret, err := C.ptrace(C.PT_DETACH, C.pid_t(pid), nil, 0)
	if ret != 0 {
		return err
	}
	return nil
}

func (machKernel) TaskSuspend(task TaskID) error {
	if kret := C.task_suspend(C.task_t(task)); kret != C.KERN_SUCCESS {
		return machError("task_suspend", kret)
	}
	return nil
}

func (machKernel) TaskResume(task TaskID) error {
	if kret := C.task_resume(C.task_t(task)); kret != C.KERN_SUCCESS {
		return machError("task_resume", kret)
	}
	return nil
}

func (machKernel) TaskThreads(task TaskID) ([]ThreadID, error) {
	var (
		list  C.thread_act_array_t
		count C.mach_msg_type_number_t
	)
	if kret := C.task_threads(C.task_t(task), &list, &count); kret != C.KERN_SUCCESS {
		return nil, machError("task_threads", kret)
	}
	defer C.vm_deallocate(C.mach_task_self_, C.vm_address_t(uintptr(unsafe.Pointer(list))),
		C.vm_size_t(count)*C.vm_size_t(unsafe.Sizeof(C.thread_act_t(0))))

	acts := unsafe.Slice((*C.thread_act_t)(unsafe.Pointer(list)), int(count))
	threads := make([]ThreadID, len(acts))
	for i, act := range acts {
		threads[i] = ThreadID(act)
	}
	return threads, nil
}

func (machKernel) ReadMemory(task TaskID, addr uint64, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n C.mach_vm_size_t
	kret := C.mach_vm_read_overwrite(C.task_t(task), C.mach_vm_address_t(addr),
		C.mach_vm_size_t(len(p)), C.mach_vm_address_t(uintptr(unsafe.Pointer(&p[0]))), &n)
	if kret != C.KERN_SUCCESS {
		return 0, machError("mach_vm_read_overwrite", kret)
	}
	return int(n), nil
}

func (machKernel) WriteMemory(task TaskID, addr uint64, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	kret := C.mach_vm_write(C.task_t(task), C.mach_vm_address_t(addr),
		C.vm_offset_t(uintptr(unsafe.Pointer(&p[0]))), C.mach_msg_type_number_t(len(p)))
	if kret != C.KERN_SUCCESS {
		return 0, machError("mach_vm_write", kret)
	}
	return len(p), nil
}

func (machKernel) Protect(task TaskID, addr, size uint64, prot Protection) error {
	kret := C.mach_vm_protect(C.task_t(task), C.mach_vm_address_t(addr),
		C.mach_vm_size_t(size), C.boolean_t(0), C.vm_prot_t(prot))
	if kret != C.KERN_SUCCESS {
		return machError("mach_vm_protect", kret)
	}
	return nil
}

func (machKernel) Region(task TaskID, addr uint64) (Region, error) {
	var (
		base    = C.mach_vm_address_t(addr)
		size    C.mach_vm_size_t
		info    C.vm_region_basic_info_data_64_t
		infoCnt = C.mach_msg_type_number_t(C.VM_REGION_BASIC_INFO_COUNT_64)
		objName C.mach_port_t
	)
	kret := C.mach_vm_region(C.task_t(task), &base, &size, C.VM_REGION_BASIC_INFO_64,
		(C.vm_region_info_t)(unsafe.Pointer(&info)), &infoCnt, &objName)
	if kret != C.KERN_SUCCESS {
		return Region{}, machError("mach_vm_region", kret)
	}
	if uint64(base) > addr {
		// The returned region starts above addr: addr itself is unmapped.
		return Region{}, fmt.Errorf("address %#x is not mapped", addr)
	}
	return Region{
		Base:    uint64(base),
		Size:    uint64(size),
		Prot:    Protection(info.protection),
		MaxProt: Protection(info.max_protection),
		Shared:  info.shared != 0,
	}, nil
}

func (machKernel) ThreadRegisters(th ThreadID) (Regs, error) {
	var state C.arm_thread_state64_t
	if kret := C.get_thread_regs(C.thread_act_t(th), &state); kret != C.KERN_SUCCESS {
		return Regs{}, machError("thread_get_state", kret)
	}
	var regs Regs
	for i := 0; i < 29; i++ {
		regs.X[i] = uint64(state.__x[i])
	}
	regs.FP = uint64(state.__fp)
	regs.LR = uint64(state.__lr)
	regs.SP = uint64(state.__sp)
	regs.PC = uint64(state.__pc)
	regs.CPSR = uint32(state.__cpsr)
	return regs, nil
}

func (machKernel) SetThreadRegisters(th ThreadID, regs Regs) error {
	var state C.arm_thread_state64_t
	for i := 0; i < 29; i++ {
		state.__x[i] = C.uint64_t(regs.X[i])
	}
	state.__fp = C.uint64_t(regs.FP)
	state.__lr = C.uint64_t(regs.LR)
	state.__sp = C.uint64_t(regs.SP)
	state.__pc = C.uint64_t(regs.PC)
	state.__cpsr = C.uint32_t(regs.CPSR)
	if kret := C.set_thread_regs(C.thread_act_t(th), &state); kret != C.KERN_SUCCESS {
		return machError("thread_set_state", kret)
	}
	return nil
}

func (machKernel) ThreadSuspendCount(th ThreadID) (int, error) {
	var count C.int
	if kret := C.suspend_count(C.thread_act_t(th), &count); kret != C.KERN_SUCCESS {
		return 0, machError("thread_info", kret)
	}
	return int(count), nil
}

func (machKernel) SuspendThread(th ThreadID) error {
	if kret := C.thread_suspend(C.thread_act_t(th)); kret != C.KERN_SUCCESS {
		return machError("thread_suspend", kret)
	}
	return nil
}

func (machKernel) ResumeThread(th ThreadID) error {
	if kret := C.thread_resume(C.thread_act_t(th)); kret != C.KERN_SUCCESS {
		return machError("thread_resume", kret)
	}
	return nil
}

func (machKernel) SetSingleStep(th ThreadID, enable bool) error {
	on := C.int(0)
	if enable {
		on = 1
	}
	if kret := C.set_single_step(C.thread_act_t(th), on); kret != C.KERN_SUCCESS {
		return machError("set single-step state", kret)
	}
	return nil
}

func (machKernel) AllocateExceptionPort() (PortID, error) {
	var port C.mach_port_t
	kret := C.mach_port_allocate(C.mach_task_self_, C.MACH_PORT_RIGHT_RECEIVE, &port)
	if kret != C.KERN_SUCCESS {
		return 0, machError("mach_port_allocate", kret)
	}
	kret = C.mach_port_insert_right(C.mach_task_self_, port, port, C.MACH_MSG_TYPE_MAKE_SEND)
	if kret != C.KERN_SUCCESS {
		C.mach_port_deallocate(C.mach_task_self_, port)
		return 0, machError("mach_port_insert_right", kret)
	}
	return PortID(port), nil
}

func (machKernel) DeallocatePort(port PortID) error {
	kret := C.mach_port_mod_refs(C.mach_task_self_, C.mach_port_name_t(port),
		C.MACH_PORT_RIGHT_RECEIVE, -1)
	if kret != C.KERN_SUCCESS {
		return machError("mach_port_mod_refs", kret)
	}
	return nil
}

func (machKernel) SaveExceptionPorts(task TaskID) (*SavedPorts, error) {
	var (
		masks     [C.EXC_TYPES_COUNT]C.exception_mask_t
		ports     [C.EXC_TYPES_COUNT]C.mach_port_t
		behaviors [C.EXC_TYPES_COUNT]C.exception_behavior_t
		flavors   [C.EXC_TYPES_COUNT]C.thread_state_flavor_t
		count     = C.mach_msg_type_number_t(C.EXC_TYPES_COUNT)
	)
	kret := C.task_get_exception_ports(C.task_t(task), excMask,
		&masks[0], &count, &ports[0], &behaviors[0], &flavors[0])
	if kret != C.KERN_SUCCESS {
		return nil, machError("task_get_exception_ports", kret)
	}

	saved := &SavedPorts{
		Masks:     make([]uint32, count),
		Ports:     make([]uint32, count),
		Behaviors: make([]uint32, count),
		Flavors:   make([]uint32, count),
	}
	for i := 0; i < int(count); i++ {
		saved.Masks[i] = uint32(masks[i])
		saved.Ports[i] = uint32(ports[i])
		saved.Behaviors[i] = uint32(behaviors[i])
		saved.Flavors[i] = uint32(flavors[i])
	}
	return saved, nil
}

func (machKernel) RedirectExceptions(task TaskID, port PortID) error {
	kret := C.task_set_exception_ports(C.task_t(task), excMask, C.mach_port_t(port),
		C.EXCEPTION_DEFAULT|C.MACH_EXCEPTION_CODES, C.ARM_THREAD_STATE64)
	if kret != C.KERN_SUCCESS {
		return machError("task_set_exception_ports", kret)
	}
	return nil
}

func (machKernel) RestoreExceptionPorts(task TaskID, saved *SavedPorts) error {
	for i := range saved.Masks {
		kret := C.task_set_exception_ports(C.task_t(task),
			C.exception_mask_t(saved.Masks[i]), C.mach_port_t(saved.Ports[i]),
			C.exception_behavior_t(saved.Behaviors[i]), C.thread_state_flavor_t(saved.Flavors[i]))
		if kret != C.KERN_SUCCESS {
			return machError("task_set_exception_ports", kret)
		}
	}
	return nil
}

func (machKernel) WaitException(port PortID, timeoutMillis int) (*RawException, error) {
	var req C.mach_exc_request_t
	kret := C.recv_exception(C.mach_port_t(port), C.int(timeoutMillis), &req)
	if kret == C.MACH_RCV_TIMED_OUT {
		return nil, nil
	}
	if kret != C.KERN_SUCCESS {
		return nil, machError("mach_msg receive", kret)
	}

	raw := &RawException{
		Thread: ThreadID(req.thread.name),
		Task:   TaskID(req.task.name),
		Type:   int32(req.exception),
		Codes:  make([]uint64, int(req.codeCnt)),
	}
	for i := 0; i < int(req.codeCnt) && i < 2; i++ {
		raw.Codes[i] = uint64(req.code[i])
	}

	// Hold the task stopped, then complete the exception RPC so the
	// kernel does not keep the reporting thread wedged in the trap path.
	// The session decides when the task runs again.
	C.task_suspend(C.task_t(req.task.name))
	if kret := C.reply_exception(&req, C.KERN_SUCCESS); kret != C.KERN_SUCCESS {
		return nil, machError("mach_msg reply", kret)
	}
	return raw, nil
}
