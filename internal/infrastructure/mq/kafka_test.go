package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerSendMessage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"user_id":1}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducer(mock)
	require.NoError(t, producer.SendMessage("ledger.changed", "1", `{"user_id":1}`))

	err := producer.SendMessage("ledger.changed", "1", `{"user_id":1}`)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, producer.Close())
}
