package storage

import (
	"encoding/json"
	"errors"

	"likeness/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeSessionSummary(s model.SessionSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSessionSummary(data []byte) (model.SessionSummary, error) {
	var summary model.SessionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.SessionSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.SessionSummary{}, err
	}
	return summary, nil
}

func EncodeKnowledgeSnapshot(s model.KnowledgeSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeKnowledgeSnapshot(data []byte) (model.KnowledgeSnapshot, error) {
	var snapshot model.KnowledgeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.KnowledgeSnapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.KnowledgeSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeScoreHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeScoreHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
