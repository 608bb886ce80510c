package sdcard

import (
	"io"
	"log/slog"

	"github.com/embeddedgo/fatfs/block"
	"github.com/embeddedgo/fatfs/ferrors"
)

// Transport is the raw full-duplex byte interface a Card drives: one byte
// out, one byte back, per SPI transfer. Chip-select assertion and the
// trailing dummy-byte/clock-pulse conventions the SD protocol expects are
// the caller's responsibility to wire into the concrete implementation.
type Transport interface {
	TransferByte(out byte) (byte, error)
	Write(out []byte) error
	TransferInPlace(buf []byte) error
}

// Delayer abstracts the platform's busy-wait primitive so retry budgets can
// be exercised in tests without real time passing.
type Delayer interface {
	DelayMicroseconds(us uint32)
}

// Options configures card acquisition and data protection.
type Options struct {
	// UseCRC enables CRC16 data protection: CMD59 turns it on during
	// acquisition and every block read is checked. CRC7 command protection
	// is always on, whatever UseCRC says. DefaultOptions sets UseCRC.
	UseCRC bool
	// AcquireRetries bounds how many times CMD0 is retried during
	// acquisition before giving up with ErrCardNotFound.
	AcquireRetries uint32
	ReadRetries    uint32
	WriteRetries   uint32
	CommandRetries uint32
}

// DefaultOptions returns the conservative defaults: CRC on, and the retry
// budgets the SD specification recommends.
func DefaultOptions() Options {
	return Options{
		UseCRC:         true,
		AcquireRetries: 50,
		ReadRetries:    DefaultReadRetries,
		WriteRetries:   DefaultWriteRetries,
		CommandRetries: DefaultCommandRetries,
	}
}

// Card is a block.Device backed by an SD/MMC card over SPI. It lazily
// acquires the card on first use and re-acquires after MarkUninit.
type Card struct {
	transport Transport
	delayer   Delayer
	opts      Options
	logger    *slog.Logger

	cardType    CardType
	initialized bool
}

// New constructs a Card driver. Acquisition is deferred until the first
// Read/Write/NumBlocks call. A nil logger disables acquisition/transfer
// tracing.
func New(transport Transport, delayer Delayer, opts Options, logger *slog.Logger) *Card {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Card{transport: transport, delayer: delayer, opts: opts, logger: logger}
}

// MarkUninit forces re-acquisition on the next operation, for use after a
// card has been physically removed and reinserted.
func (c *Card) MarkUninit() { c.initialized = false }

// MarkInitialized is an unsafe shortcut that skips the acquisition sequence
// entirely, asserting that the card is already in cardType's state (e.g. a
// bootloader stage already ran CMD0/ACMD41 and handed off). Getting this
// wrong surfaces as read/write errors, not a panic.
func (c *Card) MarkInitialized(cardType CardType) {
	c.cardType = cardType
	c.initialized = true
}

func (c *Card) checkInit() error {
	if c.initialized {
		return nil
	}
	return c.acquire()
}

// Read implements block.Device.
func (c *Card) Read(dst []block.Block, start block.Idx, reason string) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	c.logger.Debug("sdcard read", "blocks", len(dst), "start", start, "reason", reason)
	addr := c.blockAddress(start)

	if len(dst) == 1 {
		if _, err := c.cardCommand(cmd17, addr); err != nil {
			return err
		}
		return c.readData(dst[0][:])
	}

	if _, err := c.cardCommand(cmd18, addr); err != nil {
		return err
	}
	for i := range dst {
		if err := c.readData(dst[i][:]); err != nil {
			return err
		}
	}
	_, err := c.cardCommand(cmd12, 0)
	return err
}

// Write implements block.Device.
func (c *Card) Write(src []block.Block, start block.Idx) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	addr := c.blockAddress(start)

	if len(src) == 1 {
		if _, err := c.cardCommand(cmd24, addr); err != nil {
			return err
		}
		if err := c.writeData(dataStartBlock, src[0][:]); err != nil {
			return err
		}
		if err := c.waitNotBusy(c.opts.WriteRetries); err != nil {
			return err
		}
		status, err := c.cardCommand(cmd13, 0)
		if err != nil {
			return err
		}
		if status != 0 {
			return ferrors.ErrWriteError
		}
		b, err := c.readByte()
		if err != nil {
			return err
		}
		if b != 0 {
			return ferrors.ErrWriteError
		}
		return nil
	}

	if _, err := c.cardACmd(acmd23, uint32(len(src))); err != nil {
		return err
	}
	if err := c.waitNotBusy(c.opts.WriteRetries); err != nil {
		return err
	}
	if _, err := c.cardCommand(cmd25, addr); err != nil {
		return err
	}
	for i := range src {
		if err := c.waitNotBusy(c.opts.WriteRetries); err != nil {
			return err
		}
		if err := c.writeData(writeMultipleToken, src[i][:]); err != nil {
			return err
		}
	}
	if err := c.waitNotBusy(c.opts.WriteRetries); err != nil {
		return err
	}
	return c.writeByte(stopTranToken)
}

// NumBlocks implements block.Device, deriving capacity from the card's CSD
// register.
func (c *Card) NumBlocks() (block.Count, error) {
	if err := c.checkInit(); err != nil {
		return 0, err
	}
	n, err := c.readCSDCapacity()
	return block.Count(n), err
}

func (c *Card) blockAddress(idx block.Idx) uint32 {
	if c.cardType == CardTypeSDHC {
		return uint32(idx)
	}
	return uint32(idx) * block.Size
}

func (c *Card) readCSDCapacity() (uint32, error) {
	switch c.cardType {
	case CardTypeSD1:
		status, err := c.cardCommand(cmd9, 0)
		if err != nil {
			return 0, err
		}
		if status != 0 {
			return 0, ferrors.ErrRegisterReadError
		}
		var csd csdV1
		if err := c.readData(csd.data[:]); err != nil {
			return 0, err
		}
		return csd.capacityBlocks(), nil
	default:
		status, err := c.cardCommand(cmd9, 0)
		if err != nil {
			return 0, err
		}
		if status != 0 {
			return 0, ferrors.ErrRegisterReadError
		}
		var csd csdV2
		if err := c.readData(csd.data[:]); err != nil {
			return 0, err
		}
		return csd.capacityBlocks(), nil
	}
}

// readData reads len(buffer) bytes of payload preceded by the data-start
// token, and consumes the trailing 2-byte CRC, validating it if enabled.
func (c *Card) readData(buffer []byte) error {
	retries := c.opts.ReadRetries
	var status byte
	for {
		b, err := c.readByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			status = b
			break
		}
		if retries == 0 {
			return ferrors.ErrTimeoutReadBuffer
		}
		retries--
		c.delayer.DelayMicroseconds(10)
	}
	if status != dataStartBlock {
		return ferrors.ErrReadError
	}

	for i := range buffer {
		buffer[i] = 0xFF
	}
	if err := c.transport.TransferInPlace(buffer); err != nil {
		return ferrors.ErrTransportError.WrapError(err)
	}

	crcBytes := [2]byte{0xFF, 0xFF}
	if err := c.transport.TransferInPlace(crcBytes[:]); err != nil {
		return ferrors.ErrTransportError.WrapError(err)
	}
	if c.opts.UseCRC {
		got := uint16(crcBytes[0])<<8 | uint16(crcBytes[1])
		calc := crc16(buffer)
		if got != calc {
			return &ferrors.CrcErrorDetail{Got: got, Calculated: calc}
		}
	}
	return nil
}

func (c *Card) writeData(token byte, buffer []byte) error {
	if err := c.writeByte(token); err != nil {
		return err
	}
	if err := c.transport.Write(buffer); err != nil {
		return ferrors.ErrTransportError.WrapError(err)
	}
	var crcBytes [2]byte
	if c.opts.UseCRC {
		crc := crc16(buffer)
		crcBytes[0] = byte(crc >> 8)
		crcBytes[1] = byte(crc)
	} else {
		crcBytes[0], crcBytes[1] = 0xFF, 0xFF
	}
	if err := c.transport.Write(crcBytes[:]); err != nil {
		return ferrors.ErrTransportError.WrapError(err)
	}

	status, err := c.readByte()
	if err != nil {
		return err
	}
	if status&dataResMask != dataResAccepted {
		return ferrors.ErrWriteError
	}
	return nil
}

func (c *Card) acquire() error {
	c.logger.Debug("sdcard acquire", "use_crc", c.opts.UseCRC)

	retries := c.opts.AcquireRetries
	for {
		resp, err := c.cardCommand(cmd0, 0)
		if err == nil && resp == r1IdleState {
			break
		}
		if retries == 0 {
			return ferrors.ErrCardNotFound
		}
		retries--
		for i := 0; i < 0xFF; i++ {
			_ = c.writeByte(0xFF)
		}
		c.delayer.DelayMicroseconds(10)
	}

	if c.opts.UseCRC {
		resp, err := c.cardCommand(cmd59, 1)
		if err != nil {
			return err
		}
		if resp != r1IdleState {
			return ferrors.ErrCantEnableCRC
		}
	}

	var cardType CardType
	var arg uint32
	cmdRetries := c.opts.CommandRetries
	for {
		resp, err := c.cardCommand(cmd8, 0x1AA)
		if err != nil {
			return err
		}
		if resp == r1IllegalCommand|r1IdleState {
			cardType = CardTypeSD1
			arg = 0
			break
		}
		var buf [4]byte
		for i := range buf {
			buf[i] = 0xFF
		}
		if err := c.transport.TransferInPlace(buf[:]); err != nil {
			return ferrors.ErrTransportError.WrapError(err)
		}
		if buf[3] == 0xAA {
			cardType = CardTypeSD2
			arg = 0x4000_0000
			break
		}
		if cmdRetries == 0 {
			return &ferrors.TimeoutCommandError{Command: cmd8, RetryLimit: int(c.opts.CommandRetries)}
		}
		cmdRetries--
		c.delayer.DelayMicroseconds(10)
	}

	acmdRetries := c.opts.CommandRetries
	for {
		resp, err := c.cardACmd(acmd41, arg)
		if err != nil {
			return err
		}
		if resp == r1ReadyState {
			break
		}
		if acmdRetries == 0 {
			return &ferrors.TimeoutCommandError{Command: acmd41, IsAppCmd: true, RetryLimit: int(c.opts.CommandRetries)}
		}
		acmdRetries--
		c.delayer.DelayMicroseconds(10)
	}

	if cardType == CardTypeSD2 {
		resp, err := c.cardCommand(cmd58, 0)
		if err != nil {
			return err
		}
		if resp != 0 {
			return ferrors.ErrCmd58Error
		}
		var buf [4]byte
		for i := range buf {
			buf[i] = 0xFF
		}
		if err := c.transport.TransferInPlace(buf[:]); err != nil {
			return ferrors.ErrTransportError.WrapError(err)
		}
		if buf[0]&0xC0 == 0xC0 {
			cardType = CardTypeSDHC
		}
	}

	c.cardType = cardType
	c.initialized = true
	_, _ = c.readByte()
	return nil
}

func (c *Card) cardACmd(command byte, arg uint32) (byte, error) {
	if _, err := c.cardCommand(cmd55, 0); err != nil {
		return 0, err
	}
	return c.cardCommand(command, arg)
}

func (c *Card) cardCommand(command byte, arg uint32) (byte, error) {
	if command != cmd0 && command != cmd12 {
		if err := c.waitNotBusy(c.opts.CommandRetries); err != nil {
			return 0, err
		}
	}

	buf := [6]byte{
		0x40 | command,
		byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg),
		0,
	}
	buf[5] = crc7(buf[0:5])
	if err := c.transport.Write(buf[:]); err != nil {
		return 0, ferrors.ErrTransportError.WrapError(err)
	}

	if command == cmd12 {
		if _, err := c.readByte(); err != nil {
			return 0, err
		}
	}

	retries := c.opts.CommandRetries
	for {
		result, err := c.readByte()
		if err != nil {
			return 0, err
		}
		if result&0x80 == errorOK {
			return result, nil
		}
		if retries == 0 {
			return 0, &ferrors.TimeoutCommandError{Command: command, RetryLimit: int(c.opts.CommandRetries)}
		}
		retries--
		c.delayer.DelayMicroseconds(10)
	}
}

func (c *Card) readByte() (byte, error) {
	b, err := c.transport.TransferByte(0xFF)
	if err != nil {
		return 0, ferrors.ErrTransportError.WrapError(err)
	}
	return b, nil
}

func (c *Card) writeByte(out byte) error {
	_, err := c.transport.TransferByte(out)
	if err != nil {
		return ferrors.ErrTransportError.WrapError(err)
	}
	return nil
}

func (c *Card) waitNotBusy(maxRetries uint32) error {
	retries := maxRetries
	for {
		b, err := c.readByte()
		if err != nil {
			return err
		}
		if b == 0xFF {
			return nil
		}
		if retries == 0 {
			return ferrors.ErrTimeoutWaitNotBusy
		}
		retries--
		c.delayer.DelayMicroseconds(10)
	}
}
