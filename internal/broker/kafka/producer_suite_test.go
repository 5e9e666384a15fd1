package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

func (s *ProducerSuite) TestPublishOrderChanged_KeyedByOrder() {
	changedAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	msg := messages.OrderChanged{
		Type:      messages.ChangeTypeUpdate,
		OrderID:   "o42",
		Record:    models.Order{ID: "o42", Status: models.OrderStatusInTransit},
		ChangedAt: changedAt,
	}

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || msgs[0].Topic != messages.TopicOrdersChanged || string(msgs[0].Key) != "o42" {
				return false
			}
			var got messages.OrderChanged
			if json.Unmarshal(msgs[0].Value, &got) != nil {
				return false
			}
			return got.Record.Status == models.OrderStatusInTransit && got.ChangedAt.Equal(changedAt)
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.PublishOrderChanged(context.Background(), msg))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublishGeofenceEvent_ErrorWrapped() {
	want := errors.New("leader not available")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.PublishGeofenceEvent(context.Background(), messages.GeofenceEvent{OrderID: "o1", Kind: "exited_unloading"})
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestClose_WriterWithoutClose() {
	s.Require().NoError(s.p.Close())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
