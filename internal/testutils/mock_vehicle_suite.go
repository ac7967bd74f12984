package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/rcdrive/internal/testutils/mocks"
	"github.com/srg/rcdrive/internal/transport"
	"github.com/stretchr/testify/suite"
)

// MockVehicleSuite is a testify suite with a mocked Bluetooth vehicle
// installed behind transport.DeviceFactory for every test.
//
// Custom profile usage:
//
//	type NordicSuite struct {
//	    testutils.MockVehicleSuite
//	}
//
//	func (s *NordicSuite) SetupTest() {
//	    s.WithVehicle().
//	        WithService("6e400001-b5a3-f393-e0a9-e50e24dcca9e").
//	        WithCharacteristic("6e400002-b5a3-f393-e0a9-e50e24dcca9e", "write", nil)
//	    s.MockVehicleSuite.SetupTest() // Call parent last to apply configuration
//	}
//
// Without configuration the suite installs HM10Vehicle.
type MockVehicleSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (transport.Central, error)

	VehicleBuilder *VehicleBuilder
	Central        *mocks.MockCentral
	Client         *mocks.MockGATTClient
}

// SetupSuite runs once before all tests in the suite.
func (s *MockVehicleSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.OriginalDeviceFactory = transport.DeviceFactory

	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			transport.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest builds the configured vehicle and installs the device factory.
func (s *MockVehicleSuite) SetupTest() {
	if s.VehicleBuilder == nil {
		s.VehicleBuilder = HM10Vehicle()
	}
	s.Central, s.Client = s.VehicleBuilder.Build()

	central := s.Central
	transport.DeviceFactory = func() (transport.Central, error) {
		return central, nil
	}
}

// TearDownTest restores the factory and resets the builder.
func (s *MockVehicleSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		transport.DeviceFactory = s.OriginalDeviceFactory
	}
	s.VehicleBuilder = nil
	s.Central = nil
	s.Client = nil
}

// WithVehicle returns the builder for fluent configuration in SetupTest.
func (s *MockVehicleSuite) WithVehicle() *VehicleBuilder {
	if s.VehicleBuilder == nil {
		s.VehicleBuilder = NewVehicleBuilder()
	}
	return s.VehicleBuilder
}
