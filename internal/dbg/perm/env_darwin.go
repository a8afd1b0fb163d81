//go:build darwin

package perm

/*
#include <sys/types.h>
#include <unistd.h>

// From libsystem; no public header ships these.
extern int csr_check(unsigned int mask);
extern int csops(pid_t pid, unsigned int ops, void *useraddr, size_t usersize);
*/
import "C"
import (
	"bytes"
	"os"
	"os/exec"
	"unsafe"
)

const (
	// CSR_ALLOW_TASK_FOR_PID from <sys/csr.h>. csr_check returns 0 when
	// the capability is allowed, i.e. when SIP does not restrict it.
	csrAllowTaskForPid = 1 << 2

	// CS_OPS_ENTITLEMENTS_BLOB from <sys/codesign.h>.
	csOpsEntitlementsBlob = 7

	debuggerEntitlement = "com.apple.security.cs.debugger"
)

type darwinEnv struct{}

// HostEnvironment queries the live operating system.
func HostEnvironment() Environment {
	return darwinEnv{}
}

func (darwinEnv) SIPEnabled() (bool, error) {
	return C.csr_check(C.uint(csrAllowTaskForPid)) != 0, nil
}

func (darwinEnv) DeveloperModeEnabled() (bool, error) {
	out, err := exec.Command("/usr/sbin/DevToolsSecurity", "-status").CombinedOutput()
	if err != nil {
		return false, err
	}
	return bytes.Contains(out, []byte("enabled")), nil
}

func (darwinEnv) HasDebugEntitlement() (bool, error) {
	// The entitlements blob of our own signature. A short buffer makes
	// csops report the needed size via ERANGE; 64k covers any sane blob.
	buf := make([]byte, 64*1024)
	ret := C.csops(C.pid_t(os.Getpid()), C.uint(csOpsEntitlementsBlob),
		unsafe.Pointer(&buf[0]), C.size_t(len(buf)))
	if ret != 0 {
		// Unsigned or ad-hoc signed binaries have no blob at all.
		return false, nil
	}
	return bytes.Contains(buf, []byte(debuggerEntitlement)), nil
}
