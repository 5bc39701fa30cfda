// Package wire implements the bespoke binary frame protocol: proto
// header, message header, field/operation encoding, batch sub-framing
// with prefix-repeat, and particle encoding (msgpack for list/map values,
// raw bytes for the other types).
package wire

// Proto header: 8 bytes, bits 63..56 version, 55..48 message type,
// 47..0 payload length in bytes.
const (
	ProtoHeaderSize = 8
	ProtoVersion    = 2

	MsgTypeStandard   = 3
	MsgTypeCompressed = 4
)

// Message header: 22 bytes.
const (
	MsgHeaderSize = 22

	// info1 flags
	Info1Read           = 1 << 0
	Info1GetAll         = 1 << 1
	Info1ShortQuery     = 1 << 2
	Info1Batch          = 1 << 3
	Info1NoBinData      = 1 << 4
	Info1ReadModeAPAll  = 1 << 5
	Info1CompressResp   = 1 << 6

	// info2 flags
	Info2Write            = 1 << 0
	Info2Delete           = 1 << 1
	Info2Generation       = 1 << 2
	Info2GenerationGT     = 1 << 3
	Info2DurableDelete     = 1 << 4
	Info2CreateOnly        = 1 << 5
	Info2RelaxAPLongQuery = 1 << 6
	Info2RespondAllOps    = 1 << 7

	// info3 flags
	Info3Last           = 1 << 0
	Info3CommitMaster   = 1 << 1
	Info3PartitionDone  = 1 << 2
	Info3UpdateOnly     = 1 << 3
	Info3CreateOrReplace = 1 << 4
	Info3ReplaceOnly    = 1 << 5
	Info3ScReadType     = 1 << 6
	Info3ScReadRelax    = 1 << 7

	// info4 flags
	Info4TxnVerifyRead     = 1 << 0
	Info4TxnRollForward    = 1 << 1
	Info4TxnRollBack       = 1 << 2
	Info4TxnOnLockingOnly  = 1 << 3
)

// Field types.
type FieldType uint8

const (
	FieldNamespace FieldType = iota + 1
	FieldTable // set name
	FieldDigestRipe
	FieldKey
	FieldTxnID
	FieldTxnDeadline
	FieldRecordVersion
	FieldBatchIndex
	FieldIndexRange
	FieldFilterExp
	FieldSocketTimeout
	FieldQueryID
	FieldMaxRecords
	FieldPidArray
	FieldDigestArray
	FieldBvalArray
	FieldUdfPackageName
	FieldUdfFunction
	FieldUdfArgList
)

// RecordVersionSize is the fixed size of the RECORD_VERSION field payload:
// a 48-bit monotonic counter plus a 16-bit tag, little-endian.
const RecordVersionSize = 7

// Batch sub-header bits.
const (
	BatchRepeat = 1 << 0
	BatchInfo   = 1 << 1
	BatchGen    = 1 << 2
	BatchTTL    = 1 << 3
	BatchInfo4  = 1 << 4
)

// Batch outer flags byte.
const (
	BatchFlagAllowInline    = 1 << 0
	BatchFlagAllowInlineSSD = 1 << 1
	BatchFlagRespondAllKeys = 1 << 2
	BatchFlagReserved       = 1 << 7
)

// Result codes (the subset this client handles explicitly).
type ResultCode uint8

const (
	ResultOK                ResultCode = 0
	ResultKeyNotFound        ResultCode = 2
	ResultGenerationError    ResultCode = 3
	ResultParameterError     ResultCode = 4
	ResultRecordTooBig       ResultCode = 13
	ResultTimeout            ResultCode = 9
	ResultFilteredOut        ResultCode = 27
	ResultUdfBadResponse     ResultCode = 100
	ResultDeviceOverload     ResultCode = 18
)

// CompressionThreshold is the uncompressed payload size, in bytes, above
// which a request is compressed. Exactly at the threshold, a frame is
// sent uncompressed.
const CompressionThreshold = 128

// MaxBinNameLen is the longest a bin name may be.
const MaxBinNameLen = 15
