package metadata

// Field type codes shared with the managed runtime's binary format.
const (
	TypeByte      int32 = 1
	TypeShort     int32 = 2
	TypeInt       int32 = 3
	TypeLong      int32 = 4
	TypeFloat     int32 = 5
	TypeDouble    int32 = 6
	TypeChar      int32 = 7
	TypeBool      int32 = 8
	TypeString    int32 = 9
	TypeUUID      int32 = 10
	TypeDate      int32 = 11
	TypeArray     int32 = 23
	TypeEnum      int32 = 28
	TypeDecimal   int32 = 30
	TypeTimestamp int32 = 33
	TypeTime      int32 = 36
	TypeObject    int32 = 103
)
