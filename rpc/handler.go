package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/indexer"
	"github.com/sp-consortium/settlementd/storage"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	pipeline     *core.Pipeline
	ledger       *core.Ledger
	records      *storage.RecordStore
	indexer      *indexer.Indexer
	consortiumID int64 // expected genesis consortium ID; surfaced to clients for sanity-checking records
}

// NewHandler creates an RPC Handler.
func NewHandler(pipeline *core.Pipeline, ledger *core.Ledger, records *storage.RecordStore, idx *indexer.Indexer, consortiumID int64) *Handler {
	return &Handler{pipeline: pipeline, ledger: ledger, records: records, indexer: idx, consortiumID: consortiumID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getChainHeight":
		return okResponse(req.ID, h.ledger.Height())

	case "getConsortiumID":
		return okResponse(req.ID, h.consortiumID)

	case "getBlock":
		return h.getBlock(req)

	case "getRecord":
		return h.getRecord(req)

	case "submitRecord":
		return h.submitRecord(req)

	case "getRecordsByOperator":
		return h.getRecordsByOperator(req)

	case "getTransfersByOperator":
		return h.getTransfersByOperator(req)

	case "getPendingPoolSize":
		return okResponse(req.ID, h.pipeline.Pool().Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.SettlementBlock
	var err error
	switch {
	case params.Hash != "":
		block, err = h.ledger.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.ledger.GetBlockByHeight(*params.Height)
	default:
		block = h.ledger.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getRecord(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	record, err := h.records.GetRecord(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, record)
}

func (h *Handler) getRecordsByOperator(req Request) Response {
	var params struct {
		Operator string `json:"operator"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Operator == "" {
		return errResponse(req.ID, CodeInvalidParams, "operator is required")
	}
	ids, err := h.indexer.GetRecordsByOperator(params.Operator)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getTransfersByOperator(req Request) Response {
	var params struct {
		Operator string `json:"operator"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Operator == "" {
		return errResponse(req.ID, CodeInvalidParams, "operator is required")
	}
	hashes, err := h.indexer.GetTransfersByOperator(params.Operator)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, hashes)
}

func (h *Handler) submitRecord(req Request) Response {
	var body struct {
		Record       core.BceRecord `json:"record"`
		SubmitterPub string         `json:"submitter_pub"` // home operator's pubkey hex
	}
	if err := json.Unmarshal(req.Params, &body); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	pub, err := crypto.PubKeyFromHex(body.SubmitterPub)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	record := body.Record
	// privacySalt is 0 here: the JSON-RPC surface doesn't yet carry a
	// caller-supplied salt field, so the commitment witness falls back to
	// the zero salt rather than rejecting the submission.
	if err := h.pipeline.Submit(&record, pub, 0); err != nil {
		if errors.Is(err, core.ErrInvalidRecord) || errors.Is(err, core.ErrUnknownOperator) ||
			errors.Is(err, core.ErrRecordExpired) || errors.Is(err, core.ErrRecordAlreadyExists) {
			return errResponse(req.ID, CodeRecordRejected, err.Error())
		}
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if err := h.records.PutRecord(&record); err != nil {
		return errResponse(req.ID, CodeInternalError, fmt.Sprintf("persist record: %v", err))
	}
	return okResponse(req.ID, map[string]string{"record_id": record.ID})
}
