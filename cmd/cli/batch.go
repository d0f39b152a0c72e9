package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"logitrack/internal/models"
)

// shipmentBatch 接受裸数组或 {"envios": [...]} 两种格式
type shipmentBatch struct {
	Envios []*models.Shipment `json:"envios"`
}

func readShipments(path string) ([]*models.Shipment, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read shipments: %w", err)
	}

	var list []*models.Shipment
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var batch shipmentBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode shipments: %w", err)
	}
	return batch.Envios, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
