// Package firestore implements the durable Store on Google Cloud Firestore.
//
// Layout: one document per installation under the "push_clients" collection.
// The device record lives as fields on the installation document; channels
// live in a "channels" subcollection keyed by channel ID. Rotation runs in a
// single transaction so the replace is atomic: the new record and the channel
// purge commit together or not at all.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

const (
	clientsCollection  = "push_clients"
	channelsCollection = "channels"
)

type Store struct {
	client         *firestore.Client
	installationID string
}

// NewStore scopes all state to a single installation document.
func NewStore(client *firestore.Client, installationID string) *Store {
	return &Store{client: client, installationID: installationID}
}

// channelRecord is the persisted representation of a channel.
type channelRecord struct {
	ChannelID    string    `firestore:"channel_id"`
	Scope        string    `firestore:"scope"`
	Endpoint     string    `firestore:"endpoint"`
	PublicKey    []byte    `firestore:"public_key"`
	PrivateKey   []byte    `firestore:"private_key"`
	AuthSecret   []byte    `firestore:"auth_secret"`
	AppServerKey string    `firestore:"app_server_key,omitempty"`
	BridgeType   string    `firestore:"bridge_type"`
	CreatedAt    time.Time `firestore:"created_at"`
}

// deviceFields is the singleton device record stored on the installation doc.
type deviceFields struct {
	UAID        string    `firestore:"uaid"`
	AuthToken   string    `firestore:"auth_token"`
	BridgeType  string    `firestore:"bridge_type"`
	BridgeToken string    `firestore:"bridge_token"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

func (s *Store) installationRef() *firestore.DocumentRef {
	return s.client.Collection(clientsCollection).Doc(s.installationID)
}

func (s *Store) channelRef(channelID string) *firestore.DocumentRef {
	return s.installationRef().Collection(channelsCollection).Doc(channelID)
}

func (s *Store) GetChannel(ctx context.Context, channelID string) (*push.Channel, error) {
	doc, err := s.channelRef(channelID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, push.ErrChannelNotFound
	}
	if err != nil {
		return nil, push.NewStorageError("get_channel", err)
	}
	var rec channelRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, push.NewStorageError("get_channel", err)
	}
	return recordToChannel(rec), nil
}

func (s *Store) PutChannel(ctx context.Context, ch *push.Channel) error {
	_, err := s.channelRef(ch.ChannelID).Create(ctx, channelToRecord(ch))
	if status.Code(err) == codes.AlreadyExists {
		return push.ErrDuplicateChannel
	}
	if err != nil {
		return push.NewStorageError("put_channel", err)
	}
	return nil
}

func (s *Store) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(s.channelRef(channelID)); err != nil {
			return err
		}
		return tx.Delete(s.channelRef(channelID))
	})
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, push.NewStorageError("delete_channel", err)
	}
	return true, nil
}

func (s *Store) ListChannels(ctx context.Context, bridgeType push.BridgeType) ([]push.Channel, error) {
	query := s.installationRef().Collection(channelsCollection).Query
	if bridgeType != "" {
		query = query.Where("bridge_type", "==", string(bridgeType))
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []push.Channel
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, push.NewStorageError("list_channels", err)
		}
		var rec channelRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, push.NewStorageError("list_channels", fmt.Errorf("corrupt channel %s: %w", doc.Ref.ID, err))
		}
		out = append(out, *recordToChannel(rec))
	}
	return out, nil
}

func (s *Store) GetDeviceRecord(ctx context.Context) (*push.DeviceRecord, error) {
	doc, err := s.installationRef().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, push.ErrNoDeviceRecord
	}
	if err != nil {
		return nil, push.NewStorageError("get_device_record", err)
	}
	var fields deviceFields
	if err := doc.DataTo(&fields); err != nil {
		return nil, push.NewStorageError("get_device_record", err)
	}
	if fields.UAID == "" {
		return nil, push.ErrNoDeviceRecord
	}
	return &push.DeviceRecord{
		UAID:        fields.UAID,
		AuthToken:   fields.AuthToken,
		BridgeType:  push.BridgeType(fields.BridgeType),
		BridgeToken: fields.BridgeToken,
		UpdatedAt:   fields.UpdatedAt,
	}, nil
}

func (s *Store) SetDeviceRecord(ctx context.Context, rec *push.DeviceRecord) error {
	_, err := s.installationRef().Set(ctx, deviceToFields(rec))
	if err != nil {
		return push.NewStorageError("set_device_record", err)
	}
	return nil
}

func (s *Store) ReplaceDeviceRecord(ctx context.Context, rec *push.DeviceRecord) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs, err := collectChannelRefs(tx, s.installationRef())
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return tx.Set(s.installationRef(), deviceToFields(rec))
	})
	if err != nil {
		return push.NewStorageError("replace_device_record", err)
	}
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs, err := collectChannelRefs(tx, s.installationRef())
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return tx.Delete(s.installationRef())
	})
	if err != nil {
		return push.NewStorageError("clear_all", err)
	}
	return nil
}

// collectChannelRefs reads all channel refs inside the transaction so the
// deletes below stay consistent with concurrent writes.
func collectChannelRefs(tx *firestore.Transaction, installation *firestore.DocumentRef) ([]*firestore.DocumentRef, error) {
	iter := tx.Documents(installation.Collection(channelsCollection))
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, doc.Ref)
	}
	return refs, nil
}

func deviceToFields(rec *push.DeviceRecord) deviceFields {
	return deviceFields{
		UAID:        rec.UAID,
		AuthToken:   rec.AuthToken,
		BridgeType:  string(rec.BridgeType),
		BridgeToken: rec.BridgeToken,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func channelToRecord(ch *push.Channel) channelRecord {
	rec := channelRecord{
		ChannelID:  ch.ChannelID,
		Scope:      ch.Scope,
		Endpoint:   ch.Endpoint,
		PublicKey:  ch.PublicKey,
		PrivateKey: ch.PrivateKey,
		AuthSecret: ch.AuthSecret,
		BridgeType: string(ch.BridgeType),
		CreatedAt:  ch.CreatedAt,
	}
	if ch.AppServerKey != nil {
		rec.AppServerKey = *ch.AppServerKey
	}
	return rec
}

func recordToChannel(rec channelRecord) *push.Channel {
	ch := &push.Channel{
		ChannelID:  rec.ChannelID,
		Scope:      rec.Scope,
		Endpoint:   rec.Endpoint,
		PublicKey:  rec.PublicKey,
		PrivateKey: rec.PrivateKey,
		AuthSecret: rec.AuthSecret,
		BridgeType: push.BridgeType(rec.BridgeType),
		CreatedAt:  rec.CreatedAt,
	}
	if rec.AppServerKey != "" {
		key := rec.AppServerKey
		ch.AppServerKey = &key
	}
	return ch
}
