package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/rcdrive/internal/connection"
	"github.com/srg/rcdrive/internal/input"
	"github.com/srg/rcdrive/internal/settings"
	"github.com/srg/rcdrive/internal/testutils"
	"github.com/srg/rcdrive/internal/transport"
)

const testReleaseWindow = 60 * time.Millisecond

// DriveLoopTestSuite feeds terminal bytes through driveLoop into a fake link.
type DriveLoopTestSuite struct {
	suite.Suite

	factory  *testutils.FakeFactory
	prefs    *settings.Manager
	mgr      *connection.Manager
	resolver *input.Resolver
	in       *io.PipeWriter
	out      *bytes.Buffer
	done     chan error
}

func (s *DriveLoopTestSuite) SetupTest() {
	logger := testutils.NewTestLogger(s.T())
	ctx := context.Background()

	s.prefs = settings.NewManager(nil, logger)
	s.Require().NoError(s.prefs.Set(ctx, "commandDelay", "0"))

	s.factory = &testutils.FakeFactory{}
	s.mgr = connection.New(connection.Options{
		Logger:            logger,
		Factory:           s.factory.Factory(),
		Settings:          s.prefs,
		HeartbeatInterval: -1,
	})
	s.T().Cleanup(s.mgr.Disconnect)
	s.resolver = input.NewResolver(s.mgr, logger)
	s.mgr.OnReset(s.resolver.Reset)
	s.Require().NoError(s.mgr.Connect(ctx, transport.KindBluetooth, transport.Target{}))

	pr, pw := io.Pipe()
	s.in = pw
	s.out = new(bytes.Buffer)
	s.done = make(chan error, 1)
	s.T().Cleanup(func() { _ = pw.Close() })

	loopCtx, cancel := context.WithCancel(ctx)
	s.T().Cleanup(cancel)
	go func() {
		s.done <- driveLoop(loopCtx, pr, s.out, s.mgr, s.resolver, testReleaseWindow, logger)
	}()
}

func (s *DriveLoopTestSuite) press(keys string) {
	_, err := s.in.Write([]byte(keys))
	s.Require().NoError(err)
}

func (s *DriveLoopTestSuite) waitDone() error {
	select {
	case err := <-s.done:
		return err
	case <-time.After(2 * time.Second):
		s.FailNow("drive loop MUST return")
		return nil
	}
}

func (s *DriveLoopTestSuite) commands() []string {
	return s.factory.Last().SentValues("cmd")
}

func (s *DriveLoopTestSuite) TestHoldKeyStopsAfterRelease() {
	// GOAL: Verify a held key moves the vehicle and silence releases it
	//
	// TEST SCENARIO: w w w (auto-repeat) → one F → release window passes → one S

	s.press("w")
	s.press("w")
	s.press("w")

	s.Eventually(func() bool { return len(s.commands()) >= 1 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"F"}, s.commands(), "auto-repeat MUST NOT resend the command")

	s.Eventually(func() bool { return len(s.commands()) == 2 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"F", "S"}, s.commands(), "release MUST stop the vehicle once")

	s.press("q")
	s.NoError(s.waitDone(), "q MUST end the loop cleanly")
}

func (s *DriveLoopTestSuite) TestArrowReleaseCentersServo() {
	s.press("\x1b[D")

	s.Eventually(func() bool {
		return len(s.factory.Last().SentValues("srv")) == 2
	}, time.Second, 5*time.Millisecond)
	s.Equal([]string{"LEFT", "CENTER"}, s.factory.Last().SentValues("srv"))
}

func (s *DriveLoopTestSuite) TestToggleModeLatches() {
	// GOAL: Verify toggle mode keeps moving after the key is released

	s.press("m")
	s.Eventually(func() bool { return s.resolver.Mode() == input.Toggle }, time.Second, 5*time.Millisecond)

	s.press("d")
	time.Sleep(3 * testReleaseWindow)
	s.Equal([]string{"R"}, s.commands(), "toggle MUST NOT stop on release")
	s.Equal([]string{"toggle"}, s.factory.Last().SentValues("mode"))
}

func (s *DriveLoopTestSuite) TestHelpAndSpeed() {
	s.press("?+")

	s.Eventually(func() bool {
		return len(s.factory.Last().SentValues("speed")) == 1
	}, time.Second, 5*time.Millisecond)

	s.press("\x03")
	s.NoError(s.waitDone(), "ctrl+c MUST end the loop cleanly")
	s.Contains(s.out.String(), "hold/toggle", "? MUST print the key help")
	s.Equal([]string{"6"}, s.factory.Last().SentValues("speed"))
}

func (s *DriveLoopTestSuite) TestEndOfInput() {
	s.Require().NoError(s.in.Close())
	s.ErrorIs(s.waitDone(), io.EOF, "closed input MUST end the loop")
}

func (s *DriveLoopTestSuite) TestReconnectKey() {
	// GOAL: Verify r reconnects to the most recent device once the link dropped

	s.Require().NoError(s.prefs.Set(context.Background(), "autoReconnect", "false"))
	s.factory.Last().Drop(io.ErrUnexpectedEOF)
	s.Eventually(func() bool { return !s.mgr.Connected() }, time.Second, 5*time.Millisecond)

	s.press("r")
	s.Eventually(func() bool { return s.mgr.Connected() }, time.Second, 5*time.Millisecond,
		"r MUST reconnect to history entry 1")
	s.GreaterOrEqual(s.factory.Calls(), 2)
}

func TestDriveLoopTestSuite(t *testing.T) {
	suite.Run(t, new(DriveLoopTestSuite))
}
