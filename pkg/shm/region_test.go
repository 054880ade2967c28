/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/srediag/sentry-shm/api"
	"github.com/srediag/sentry-shm/pkg/simkernel"
)

const (
	testLabel  api.Label      = 0x4c
	testHandle api.Handle     = 7
	testBase   uintptr        = 0x2000_0000
	testLen    uint           = 4096
	self       api.TaskHandle = 3
)

type RegionTestSuite struct {
	suite.Suite
	kernel *simkernel.Kernel
	task   *simkernel.Task
}

func (s *RegionTestSuite) SetupTest() {
	s.kernel = simkernel.New()
	s.task = s.kernel.Task(self)
	_, err := s.kernel.Provision(simkernel.Descriptor{
		Label:  testLabel,
		Handle: testHandle,
		Base:   testBase,
		Length: testLen,
		Perms:  api.PermMap | api.PermRead | api.PermWrite,
	})
	s.Require().NoError(err)
}

func (s *RegionTestSuite) TearDownTest() {
	s.Require().NoError(s.kernel.Close())
}

func (s *RegionTestSuite) newRegion() *Unmapped {
	u, err := New(s.task, testLabel)
	s.Require().NoError(err)
	return u
}

func (s *RegionTestSuite) infoQueries() int {
	return s.kernel.Count(simkernel.CallGetInfo)
}

func (s *RegionTestSuite) TestNewIsUnmappedWithEmptyCache() {
	u := s.newRegion()
	s.Require().Equal(testHandle, u.Handle())
	s.Require().Equal(testLabel, u.Label())
	s.Require().False(u.Cached())
	s.Require().Equal(0, s.infoQueries())
	s.Require().Equal(1, s.kernel.Count(simkernel.CallGetHandle))
	s.Require().Equal(1, s.kernel.Count(simkernel.CallCopy))
}

func (s *RegionTestSuite) TestNewFailures() {
	_, err := New(s.task, testLabel+1)
	s.Require().ErrorIs(err, api.StatusNoEntity)
	s.Require().Equal(0, s.kernel.Count(simkernel.CallCopy))

	s.kernel.Inject(simkernel.CallGetHandle, api.StatusDenied)
	_, err = New(s.task, testLabel)
	s.Require().ErrorIs(err, api.StatusDenied)

	s.kernel.Inject(simkernel.CallCopy, api.StatusAborted)
	_, err = New(s.task, testLabel)
	s.Require().ErrorIs(err, api.StatusAborted)

	_, err = New(nil, testLabel)
	s.Require().ErrorIs(err, ErrNilKernel)
}

func (s *RegionTestSuite) TestMapInfoUnmapScenario() {
	u := s.newRegion()

	m, err := u.Map(self)
	s.Require().NoError(err)
	s.Require().Equal(testHandle, m.Handle())
	s.Require().False(m.Cached())
	s.Require().True(s.kernel.Mapped(testHandle))

	info, err := m.Info()
	s.Require().NoError(err)
	s.Require().Equal(testBase, info.Base)
	s.Require().Equal(testLen, info.Length)
	s.Require().Equal(api.PermMap|api.PermRead|api.PermWrite, info.Perms)
	s.Require().True(m.IsReadable())
	s.Require().True(m.IsWritable())
	s.Require().False(m.IsTransferable())

	u, err = m.Unmap()
	s.Require().NoError(err)
	s.Require().Equal(testHandle, u.Handle())
	s.Require().Equal(testLabel, u.Label())
	s.Require().False(u.Cached())
	s.Require().False(s.kernel.Mapped(testHandle))
}

func (s *RegionTestSuite) TestSetCredentialsInvalidatesCache() {
	u := s.newRegion()
	s.Require().False(u.IsTransferable())
	s.Require().True(u.Cached())
	before := s.infoQueries()

	s.Require().NoError(u.SetCredentials(5, api.PermTransfer))
	s.Require().False(u.Cached())
	s.Require().True(u.IsTransferable())
	s.Require().Equal(before+1, s.infoQueries())

	grantee, perms, ok := s.kernel.Credential(testHandle)
	s.Require().True(ok)
	s.Require().Equal(api.TaskHandle(5), grantee)
	s.Require().Equal(api.PermTransfer, perms)
}

func (s *RegionTestSuite) TestSetCredentialsFailureKeepsCache() {
	u := s.newRegion()
	_, err := u.Info()
	s.Require().NoError(err)
	before := s.infoQueries()

	s.kernel.Inject(simkernel.CallSetCredential, api.StatusDenied)
	err = u.SetCredentials(5, api.PermTransfer)
	s.Require().ErrorIs(err, api.StatusDenied)
	s.Require().True(u.Cached())

	perms, err := u.Permissions()
	s.Require().NoError(err)
	s.Require().Equal(api.PermMap|api.PermRead|api.PermWrite, perms)
	s.Require().Equal(before, s.infoQueries())
}

func (s *RegionTestSuite) TestInfoIsCached() {
	u := s.newRegion()
	first, err := u.Info()
	s.Require().NoError(err)
	second, err := u.Info()
	s.Require().NoError(err)
	s.Require().Equal(first, second)
	s.Require().Equal(1, s.infoQueries())

	base, err := u.BaseAddress()
	s.Require().NoError(err)
	s.Require().Equal(testBase, base)
	length, err := u.Length()
	s.Require().NoError(err)
	s.Require().Equal(testLen, length)
	s.Require().True(u.IsMappable())
	s.Require().Equal(1, s.infoQueries())
}

func (s *RegionTestSuite) TestTransitionsForceFreshQuery() {
	u := s.newRegion()
	_, err := u.Info()
	s.Require().NoError(err)
	s.Require().Equal(1, s.infoQueries())

	m, err := u.Map(self)
	s.Require().NoError(err)
	_, err = m.Info()
	s.Require().NoError(err)
	s.Require().Equal(2, s.infoQueries())

	u, err = m.Unmap()
	s.Require().NoError(err)
	_, err = u.Info()
	s.Require().NoError(err)
	s.Require().Equal(3, s.infoQueries())
}

func (s *RegionTestSuite) TestHostBackedBaseFollowsMapping() {
	const label api.Label = 0x99
	_, err := s.kernel.Provision(simkernel.Descriptor{Label: label, Length: 8192, Perms: api.PermMap | api.PermRead})
	s.Require().NoError(err)
	u, err := New(s.task, label)
	s.Require().NoError(err)

	base, err := u.BaseAddress()
	s.Require().NoError(err)
	s.Require().Zero(base)

	m, err := u.Map(self)
	s.Require().NoError(err)
	base, err = m.BaseAddress()
	s.Require().NoError(err)
	s.Require().NotZero(base)

	u, err = m.Unmap()
	s.Require().NoError(err)
	base, err = u.BaseAddress()
	s.Require().NoError(err)
	s.Require().Zero(base)
}

func (s *RegionTestSuite) TestRepeatedCycles() {
	u := s.newRegion()
	for i := 0; i < 50; i++ {
		m, err := u.Map(self)
		s.Require().NoError(err)
		s.Require().True(m.IsReadable())
		u, err = m.Unmap()
		s.Require().NoError(err)
		s.Require().True(u.IsMappable())
	}
	s.Require().Equal(testHandle, u.Handle())
	s.Require().Equal(testLabel, u.Label())
	s.Require().Equal(100, s.infoQueries())
	s.Require().Equal(50, s.kernel.Count(simkernel.CallMap))
}

func (s *RegionTestSuite) TestMapDeniedKeepsValue() {
	u := s.newRegion()
	s.Require().NoError(u.SetCredentials(self, api.PermRead))
	s.Require().False(u.IsMappable())

	m, err := u.Map(self)
	s.Require().ErrorIs(err, api.StatusDenied)
	s.Require().Nil(m)
	s.Require().Equal(testHandle, u.Handle())
	s.Require().True(u.Cached())
	s.Require().False(s.kernel.Mapped(testHandle))

	s.Require().NoError(u.SetCredentials(self, api.PermMap|api.PermRead))
	m, err = u.Map(self)
	s.Require().NoError(err)
	s.Require().Equal(testHandle, m.Handle())
}

func (s *RegionTestSuite) TestMapImmediateRetry() {
	u := s.newRegion()
	_, err := u.Info()
	s.Require().NoError(err)

	s.kernel.Inject(simkernel.CallMap, api.StatusDenied)
	_, err = u.Map(self)
	s.Require().ErrorIs(err, api.StatusDenied)
	s.Require().True(u.Cached())

	m, err := u.Map(self)
	s.Require().NoError(err)
	s.Require().NotNil(m)
}

func (s *RegionTestSuite) TestUnmapFailureKeepsValue() {
	m, err := s.newRegion().Map(self)
	s.Require().NoError(err)
	_, err = m.Info()
	s.Require().NoError(err)

	s.kernel.Inject(simkernel.CallUnmap, api.StatusBusy)
	u, err := m.Unmap()
	s.Require().ErrorIs(err, api.StatusBusy)
	s.Require().Nil(u)
	s.Require().Equal(testHandle, m.Handle())
	s.Require().True(m.Cached())
	s.Require().True(s.kernel.Mapped(testHandle))

	u, err = m.Unmap()
	s.Require().NoError(err)
	s.Require().False(u.Cached())
}

func (s *RegionTestSuite) TestAccessorsPropagateRefreshErrors() {
	u := s.newRegion()

	s.kernel.Inject(simkernel.CallGetInfo, api.StatusDenied)
	_, err := u.Permissions()
	s.Require().ErrorIs(err, api.StatusDenied)
	s.Require().False(u.Cached())

	s.kernel.Inject(simkernel.CallGetInfo, api.StatusBusy)
	_, err = u.BaseAddress()
	s.Require().ErrorIs(err, api.StatusBusy)

	s.kernel.Inject(simkernel.CallCopy, api.StatusAborted)
	_, err = u.Length()
	s.Require().ErrorIs(err, api.StatusAborted)
	s.Require().False(u.Cached())

	length, err := u.Length()
	s.Require().NoError(err)
	s.Require().Equal(testLen, length)
}

func (s *RegionTestSuite) TestCapabilityQueriesNeverFail() {
	u := s.newRegion()
	for _, query := range []func() bool{u.IsReadable, u.IsWritable, u.IsTransferable, u.IsMappable} {
		s.kernel.Inject(simkernel.CallGetInfo, api.StatusDenied)
		s.Require().False(query())
	}
	s.Require().False(u.Cached())
	s.Require().True(u.IsReadable())
}

func (s *RegionTestSuite) TestReleasedValues() {
	u := s.newRegion()
	m, err := u.Map(self)
	s.Require().NoError(err)

	_, err = u.Map(self)
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().ErrorIs(err, api.StatusInvalid)
	s.Require().ErrorIs(u.SetCredentials(5, api.PermRead), ErrReleased)
	_, err = u.Info()
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().False(u.IsReadable())
	s.Require().Zero(u.Handle())
	s.Require().Zero(u.Label())
	s.Require().False(u.Cached())
	s.Require().Equal(1, s.kernel.Count(simkernel.CallMap))

	u2, err := m.Unmap()
	s.Require().NoError(err)
	_, err = m.Unmap()
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().Equal(testHandle, u2.Handle())

	var zero Unmapped
	_, err = zero.Map(self)
	s.Require().ErrorIs(err, ErrReleased)
	var zeroMapped Mapped
	_, err = zeroMapped.BaseAddress()
	s.Require().ErrorIs(err, ErrReleased)
}

func (s *RegionTestSuite) TestCopiedValuesAreReleased() {
	u := s.newRegion()
	stale := *u
	s.Require().Zero(stale.Handle())

	m, err := u.Map(self)
	s.Require().NoError(err)
	s.Require().ErrorIs(stale.SetCredentials(5, api.PermTransfer), ErrReleased)
	_, err = stale.Map(self)
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().False(stale.IsReadable())
	s.Require().Equal(0, s.kernel.Count(simkernel.CallSetCredential))
	s.Require().Equal(1, s.kernel.Count(simkernel.CallMap))

	staleMapped := *m
	_, err = staleMapped.Unmap()
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().Equal(0, s.kernel.Count(simkernel.CallUnmap))
	s.Require().True(s.kernel.Mapped(testHandle))

	_, err = m.Unmap()
	s.Require().NoError(err)
	_, err = staleMapped.Info()
	s.Require().ErrorIs(err, ErrReleased)
}

func (s *RegionTestSuite) TestNilValues() {
	var u *Unmapped
	_, err := u.Map(self)
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().ErrorIs(u.SetCredentials(5, api.PermRead), ErrReleased)
	s.Require().False(u.IsReadable())
	s.Require().False(u.Cached())
	s.Require().Zero(u.Handle())
	_, err = u.Length()
	s.Require().ErrorIs(err, ErrReleased)

	var m *Mapped
	_, err = m.Unmap()
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().False(m.IsWritable())
	s.Require().Zero(m.Label())
	_, err = m.Permissions()
	s.Require().ErrorIs(err, ErrReleased)
	s.Require().Equal(0, s.kernel.Count(simkernel.CallMap)+s.kernel.Count(simkernel.CallUnmap))
}

func (s *RegionTestSuite) TestStateSpecificMethodSets() {
	unmapped := reflect.TypeOf((*Unmapped)(nil))
	mapped := reflect.TypeOf((*Mapped)(nil))

	_, ok := unmapped.MethodByName("Map")
	s.Require().True(ok)
	_, ok = unmapped.MethodByName("SetCredentials")
	s.Require().True(ok)
	_, ok = unmapped.MethodByName("Unmap")
	s.Require().False(ok)

	_, ok = mapped.MethodByName("Unmap")
	s.Require().True(ok)
	_, ok = mapped.MethodByName("Map")
	s.Require().False(ok)
	_, ok = mapped.MethodByName("SetCredentials")
	s.Require().False(ok)

	region := reflect.TypeOf((*Region)(nil)).Elem()
	s.Require().True(unmapped.Implements(region))
	s.Require().True(mapped.Implements(region))
}

func (s *RegionTestSuite) TestLogsTransitions() {
	core, logs := observer.New(zapcore.DebugLevel)
	u, err := New(s.task, testLabel, WithLogger(zap.New(core)))
	s.Require().NoError(err)
	m, err := u.Map(self)
	s.Require().NoError(err)
	_, err = m.Unmap()
	s.Require().NoError(err)

	s.Require().Equal(1, logs.FilterMessage("region resolved").Len())
	s.Require().Equal(1, logs.FilterMessage("region mapped").Len())
	entries := logs.FilterMessage("region unmapped").All()
	s.Require().Len(entries, 1)
	s.Require().EqualValues(testHandle, entries[0].ContextMap()["handle"])
}

func TestRegionTestSuite(t *testing.T) {
	suite.Run(t, new(RegionTestSuite))
}

// stubKernel answers every exchange from fixed values.
type stubKernel struct {
	handle  api.Handle
	info    api.Info
	short   bool
	pending []byte
}

func (k *stubKernel) GetShmHandle(api.Label) api.Status {
	k.pending, _ = k.handle.AppendBinary(nil)
	return api.StatusOk
}

func (k *stubKernel) MapShm(api.Handle) api.Status   { return api.StatusOk }
func (k *stubKernel) UnmapShm(api.Handle) api.Status { return api.StatusOk }

func (k *stubKernel) ShmSetCredential(api.Handle, api.TaskHandle, api.Permission) api.Status {
	return api.StatusOk
}

func (k *stubKernel) ShmGetInfo(api.Handle) api.Status {
	k.pending, _ = k.info.AppendBinary(nil)
	return api.StatusOk
}

func (k *stubKernel) CopyFromKernel(dst []byte) (int, api.Status) {
	src := k.pending
	if k.short {
		src = src[:len(src)/2]
	}
	return copy(dst, src), api.StatusOk
}

func TestDescriptorForAnotherHandleIsCritical(t *testing.T) {
	k := &stubKernel{handle: 7, info: api.Info{Label: 1, Handle: 8, Length: 16}}
	u, err := New(k, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = u.Info()
	if !errors.Is(err, api.StatusCritical) {
		t.Fatalf("expected critical status, got %v", err)
	}
	if u.Cached() {
		t.Fatal("mismatched descriptor must not be cached")
	}
	if u.IsReadable() {
		t.Fatal("capability query must report false on failure")
	}
}

func TestShortCopyIsInvalid(t *testing.T) {
	k := &stubKernel{handle: 7, short: true}
	_, err := New(k, 1)
	if !errors.Is(err, api.StatusInvalid) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	k.short = false
	u, err := New(k, 1)
	if err != nil {
		t.Fatal(err)
	}
	k.short = true
	if _, err := u.Length(); !errors.Is(err, api.StatusInvalid) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestMapInfoUnmapScenarioReadWrite(t *testing.T) {
	k := &stubKernel{handle: testHandle, info: api.Info{
		Label:  testLabel,
		Handle: testHandle,
		Base:   testBase,
		Length: testLen,
		Perms:  api.PermRead | api.PermWrite,
	}}
	u, err := New(k, testLabel)
	require.NoError(t, err)

	m, err := u.Map(self)
	require.NoError(t, err)
	info, err := m.Info()
	require.NoError(t, err)
	require.Equal(t, testBase, info.Base)
	require.Equal(t, testLen, info.Length)
	require.Equal(t, api.PermRead|api.PermWrite, info.Perms)
	require.True(t, m.IsReadable())
	require.True(t, m.IsWritable())
	require.False(t, m.IsTransferable())
	require.False(t, m.IsMappable())

	u, err = m.Unmap()
	require.NoError(t, err)
	require.Equal(t, testHandle, u.Handle())
	require.False(t, u.Cached())
}
