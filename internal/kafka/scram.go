package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/xdg-go/scram"
)

var (
	scramSHA256 scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }
	scramSHA512 scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }
)

// scramClient 适配 sarama.SCRAMClient
type scramClient struct {
	hashFn       scram.HashGeneratorFcn
	conversation *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashFn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conversation.Done()
}
