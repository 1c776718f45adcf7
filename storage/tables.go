package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/Modar-SAD/task-nest/domain"
)

const edmDateTime = "Edm.DateTime"

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// TableBackend stores tasks in Azure Table Storage with the user id as
// PartitionKey and the task id as RowKey.
type TableBackend struct {
	table *aztables.Client
}

// NewTableBackend connects to the named table.
func NewTableBackend(connStr, table string) (*TableBackend, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableBackend{table: svc.NewClient(table)}, nil
}

type taskEntity struct {
	PartitionKey  string    `json:"PartitionKey"`
	RowKey        string    `json:"RowKey"`
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Status        string    `json:"Status"`
	Deadline      time.Time `json:"Deadline"`
	DeadlineType  string    `json:"Deadline@odata.type,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

type taskUpdate struct {
	PartitionKey  string     `json:"PartitionKey"`
	RowKey        string     `json:"RowKey"`
	Title         *string    `json:"Title,omitempty"`
	Description   *string    `json:"Description,omitempty"`
	Status        *string    `json:"Status,omitempty"`
	Deadline      *time.Time `json:"Deadline,omitempty"`
	DeadlineType  *string    `json:"Deadline@odata.type,omitempty"`
	UpdatedAt     time.Time  `json:"UpdatedAt"`
	UpdatedAtType string     `json:"UpdatedAt@odata.type"`
}

func encodeEntity(userID string, rec domain.Record) ([]byte, error) {
	return sonic.Marshal(taskEntity{
		PartitionKey:  userID,
		RowKey:        rec.ID,
		Title:         rec.Title,
		Description:   rec.Description,
		Status:        rec.Status,
		Deadline:      rec.Deadline.UTC(),
		DeadlineType:  edmDateTime,
		CreatedAt:     rec.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
		UpdatedAt:     rec.UpdatedAt.UTC(),
		UpdatedAtType: edmDateTime,
	})
}

func encodeUpdate(userID, id string, patch domain.Patch, updatedAt time.Time) ([]byte, error) {
	upd := taskUpdate{
		PartitionKey:  userID,
		RowKey:        id,
		Title:         patch.Title,
		Description:   patch.Description,
		UpdatedAt:     updatedAt.UTC(),
		UpdatedAtType: edmDateTime,
	}
	if patch.Status != nil {
		s := string(*patch.Status)
		upd.Status = &s
	}
	if patch.Deadline != nil {
		d := patch.Deadline.UTC()
		t := edmDateTime
		upd.Deadline = &d
		upd.DeadlineType = &t
	}
	return sonic.Marshal(upd)
}

func decodeEntity(data []byte) (domain.Record, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Record{}, err
	}
	return domain.Record{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Deadline:    ent.Deadline,
		Status:      ent.Status,
		CreatedAt:   ent.CreatedAt,
		UpdatedAt:   ent.UpdatedAt,
	}, nil
}

func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func (t *TableBackend) List(ctx context.Context, userID string) ([]domain.Record, error) {
	filter := partitionFilter(userID)
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	records := []domain.Record{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			rec, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (t *TableBackend) Insert(ctx context.Context, userID string, rec domain.Record) error {
	payload, err := encodeEntity(userID, rec)
	if err != nil {
		return err
	}
	_, err = t.table.AddEntity(ctx, payload, nil)
	return err
}

func (t *TableBackend) Update(ctx context.Context, userID, id string, patch domain.Patch, updatedAt time.Time) error {
	payload, err := encodeUpdate(userID, id, patch, updatedAt)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isStatus(err, http.StatusNotFound) {
		return &domain.NotFoundError{ID: id}
	}
	return err
}

func (t *TableBackend) Delete(ctx context.Context, userID, id string) error {
	_, err := t.table.DeleteEntity(ctx, userID, id, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}
