package kobj

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Scenario: install an exception port on a process, fault its only
// thread, observe the report, decline it, and watch the thread die and
// the process raise SIGNALED.
func TestExceptionDeliveryScenario(t *testing.T) {
	_, pr := mustKernel(t)

	ph, err := pr.ProcessCreate("faulty")
	require.NoError(t, err)
	th, err := pr.ThreadCreate(ph, "main")
	require.NoError(t, err)

	kernelEnd, handlerEnd, err := pr.MsgPipeCreate(0)
	require.NoError(t, err)
	require.NoError(t, pr.SetExceptionPort(ph, kernelEnd, 0x5050))

	// A second install without clearing is refused.
	err = pr.SetExceptionPort(ph, kernelEnd, 0x6060)
	require.True(t, IsCode(err, ErrAlreadyBound))

	require.NoError(t, pr.ProcessStart(ph, th, func(ctx context.Context, a1, a2 uint64) {
		<-ctx.Done()
	}, 0, 0))

	faultDone := make(chan error, 1)
	go func() {
		faultDone <- pr.RaiseException(th, ExceptionPageFault, 0x8000, 0xbad0)
	}()

	// The report arrives on the handler's end of the pipe.
	_, err = pr.HandleWaitOne(context.Background(), handlerEnd, SignalReadable, time.Second)
	require.NoError(t, err, "no exception report arrived")
	buf := make([]byte, 512)
	n, _, err := pr.MsgPipeRead(handlerEnd, buf, 0)
	require.NoError(t, err)

	report, err := UnmarshalExceptionReport(buf[:n])
	require.NoError(t, err)

	phInfo, _ := pr.ObjectGetInfo(ph)
	thInfo, _ := pr.ObjectGetInfo(th)
	require.Equal(t, phInfo.Koid, report.Context.PID)
	require.Equal(t, thInfo.Koid, report.Context.TID)
	require.Equal(t, ExceptionPageFault, report.Context.Subtype)
	require.Equal(t, uint64(0x8000), report.Context.PC)
	require.Equal(t, uint64(0xbad0), report.Context.FaultAddr)

	// Decline: no system port installed, so the thread dies and the
	// process follows, raising SIGNALED.
	require.NoError(t, pr.ResumeThread(th, false))
	err = <-faultDone
	require.True(t, IsCode(err, ErrBadState), "unhandled fault = %v", err)

	state, err := pr.HandleWaitOne(context.Background(), ph, SignalSignaled, time.Second)
	require.NoError(t, err)
	require.NotZero(t, state.Satisfied&SignalSignaled, "dead process not SIGNALED")
}

func TestExceptionHandledResumes(t *testing.T) {
	_, pr := mustKernel(t)
	ph, _ := pr.ProcessCreate("handled")
	th, _ := pr.ThreadCreate(ph, "main")
	kernelEnd, handlerEnd, _ := pr.MsgPipeCreate(0)
	require.NoError(t, pr.SetExceptionPort(ph, kernelEnd, 1))

	bodyDone := make(chan struct{})
	require.NoError(t, pr.ProcessStart(ph, th, func(ctx context.Context, a1, a2 uint64) {
		<-bodyDone
	}, 0, 0))

	faultDone := make(chan error, 1)
	go func() {
		faultDone <- pr.RaiseException(th, ExceptionSwBreakpoint, 0x44, 0)
	}()

	_, err := pr.HandleWaitOne(context.Background(), handlerEnd, SignalReadable, time.Second)
	require.NoError(t, err)
	buf := make([]byte, 512)
	_, _, err = pr.MsgPipeRead(handlerEnd, buf, 0)
	require.NoError(t, err)

	require.NoError(t, pr.ResumeThread(th, true))
	require.NoError(t, <-faultDone, "handled fault should resume cleanly")

	// The thread lives on.
	thInfo, err := pr.ObjectGetInfo(th)
	require.NoError(t, err)
	require.Equal(t, TypeThread, thInfo.Type)
	close(bodyDone)
}

func TestSystemExceptionPortFallback(t *testing.T) {
	_, pr := mustKernel(t)
	ph, _ := pr.ProcessCreate("sysfault")
	th, _ := pr.ThreadCreate(ph, "main")

	sysKernel, sysHandler, _ := pr.MsgPipeCreate(0)
	require.NoError(t, pr.SetSystemExceptionPort(sysKernel, 0x99))
	defer func() { _ = pr.ClearSystemExceptionPort() }()

	require.NoError(t, pr.ProcessStart(ph, th, func(ctx context.Context, a1, a2 uint64) {
		<-ctx.Done()
	}, 0, 0))

	faultDone := make(chan error, 1)
	go func() {
		faultDone <- pr.RaiseException(th, ExceptionGeneral, 0, 0)
	}()

	// No thread or process port: the system scope gets it directly.
	_, err := pr.HandleWaitOne(context.Background(), sysHandler, SignalReadable, time.Second)
	require.NoError(t, err, "system port never saw the fault")
	buf := make([]byte, 512)
	_, _, err = pr.MsgPipeRead(sysHandler, buf, 0)
	require.NoError(t, err)

	require.NoError(t, pr.ResumeThread(th, true))
	require.NoError(t, <-faultDone)
}

func TestClearExceptionPort(t *testing.T) {
	_, pr := mustKernel(t)
	ph, _ := pr.ProcessCreate("clearer")
	kernelEnd, _, _ := pr.MsgPipeCreate(0)

	require.NoError(t, pr.SetExceptionPort(ph, kernelEnd, 1))
	require.NoError(t, pr.ClearExceptionPort(ph))
	require.NoError(t, pr.SetExceptionPort(ph, kernelEnd, 2), "reinstall after clear")
}
